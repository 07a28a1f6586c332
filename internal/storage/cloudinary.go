package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// CloudinaryConfig holds configuration for an unsigned Cloudinary upload.
type CloudinaryConfig struct {
	// UploadURL is the full upload endpoint, e.g.
	// https://api.cloudinary.com/v1_1/{cloud}/auto/upload
	UploadURL string

	// UploadPreset names the unsigned preset configured on the account.
	UploadPreset string

	// Timeout bounds a single upload. Defaults to 2 minutes.
	Timeout time.Duration
}

// CloudinaryUploader implements Uploader against an unsigned upload
// endpoint. The response's secure_url is the locator.
type CloudinaryUploader struct {
	uploadURL  string
	preset     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCloudinaryUploader validates cfg and builds the uploader.
func NewCloudinaryUploader(cfg CloudinaryConfig, logger *slog.Logger) (*CloudinaryUploader, error) {
	if cfg.UploadURL == "" {
		return nil, errors.New("cloudinary: upload URL is required")
	}
	if cfg.UploadPreset == "" {
		return nil, errors.New("cloudinary: upload preset is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	logger.Info("initialized cloudinary uploader", "upload_url", cfg.UploadURL, "preset", cfg.UploadPreset)

	return &CloudinaryUploader{
		uploadURL:  cfg.UploadURL,
		preset:     cfg.UploadPreset,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload streams body as a multipart form with fields "file" and
// "upload_preset".
func (u *CloudinaryUploader) Upload(ctx context.Context, body io.Reader, meta Metadata) (string, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(form, body, meta, u.preset))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, pr)
	if err != nil {
		pr.Close()
		return "", &StorageError{Op: "Upload", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		pr.Close()
		return "", &StorageError{Op: "Upload", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &StorageError{Op: "Upload", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var parsed cloudinaryResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &StorageError{Op: "Upload", Err: ErrAccessDenied}
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", &StorageError{Op: "Upload", Err: ErrTooLarge}
	case resp.StatusCode >= 300:
		msg := strings.TrimSpace(string(raw))
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", &StorageError{Op: "Upload", Err: fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)}
	case parsed.SecureURL == "":
		return "", &StorageError{Op: "Upload", Err: fmt.Errorf("%w: response has no secure_url", ErrRejected)}
	}

	u.logger.Debug("uploaded submission to cloudinary", "filename", meta.Filename, "locator", parsed.SecureURL)
	return parsed.SecureURL, nil
}

func writeUploadForm(form *multipart.Writer, body io.Reader, meta Metadata, preset string) error {
	filename := meta.Filename
	if filename == "" {
		filename = "upload"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", DetectContentType(meta.ContentType, filename, nil))

	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	if err := form.WriteField("upload_preset", preset); err != nil {
		return err
	}
	return form.Close()
}
