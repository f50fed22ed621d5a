package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/petpixie/pixie/pkg/api"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Request a signed upload slot for a pet photo",
	Long: `Inspects a local image and asks the server for a signed upload slot. The
content type is detected from the file's bytes, not its extension.

Example:
  pixie upload ./rex.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

type signUploadRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// describeFile derives the sign-upload request for a local file
func describeFile(path string) (signUploadRequest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return signUploadRequest{}, err
	}
	if info.IsDir() {
		return signUploadRequest{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return signUploadRequest{}, fmt.Errorf("failed to detect content type: %w", err)
	}
	return signUploadRequest{
		FileName: filepath.Base(path),
		FileType: mt.String(),
		FileSize: info.Size(),
	}, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	req, err := describeFile(args[0])
	if err != nil {
		return err
	}

	client, err := newHTTPClient()
	if err != nil {
		return err
	}

	var resp api.SignUploadResponse
	if err := postJSON(cmd.Context(), client, "/api/sign-upload", req, &resp); err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), resp, [][]string{
		{"File", req.FileName},
		{"Type", req.FileType},
		{"Size", fmt.Sprintf("%d bytes", req.FileSize)},
		{"Object", resp.FileName},
		{"Upload URL", resp.UploadURL},
		{"Public URL", resp.PublicURL},
	})
}
