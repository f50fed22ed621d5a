package api

import (
	"net/http"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUpload(t *testing.T) {
	tests := []struct {
		name      string
		body      map[string]any
		wantError string
	}{
		{"missing name", map[string]any{"fileType": "image/png", "fileSize": 100}, "Missing required fields"},
		{"missing type", map[string]any{"fileName": "cat.png", "fileSize": 100}, "Missing required fields"},
		{"zero size", map[string]any{"fileName": "cat.png", "fileType": "image/png", "fileSize": 0}, "Missing required fields"},
		{"too large", map[string]any{"fileName": "cat.png", "fileType": "image/png", "fileSize": 5*1024*1024 + 1}, "File too large"},
		{"not an image", map[string]any{"fileName": "notes.txt", "fileType": "text/plain", "fileSize": 100}, "Invalid file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			w := env.do(t, http.MethodPost, "/api/sign-upload", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantError, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestSignUploadSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/sign-upload", map[string]any{
		"fileName": "my.cat.jpeg",
		"fileType": "image/jpeg",
		"fileSize": 5 * 1024 * 1024,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[SignUploadResponse](t, w)
	ms := env.clock.Now().UnixMilli()
	assert.Regexp(t, regexp.MustCompile(`^uploads/\d+-[0-9a-f]{12}\.jpeg$`), resp.FileName)
	assert.Contains(t, resp.FileName, "uploads/"+strconv.FormatInt(ms, 10)+"-")
	assert.Equal(t, "https://storage.petpixie.app/"+resp.FileName, resp.PublicURL)
	assert.Equal(t, DefaultUploadConfig().UploadURL, resp.UploadURL)
}

func TestObjectNameWithoutExtension(t *testing.T) {
	name := objectName("README", 42)
	assert.Regexp(t, `^uploads/42-[0-9a-f]{12}\.README$`, name)
}
