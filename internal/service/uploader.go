package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
)

// Upload is one file received with a request.
type Upload struct {
	Name string
	MIME string
	Open func() (io.ReadCloser, error)
}

// Uploader stores images in the object store and hands them to the vision provider.
type Uploader struct {
	objects  ObjectStore
	vision   VisionProvider
	executor *Executor
}

func NewUploader(objects ObjectStore, vision VisionProvider, executor *Executor) *Uploader {
	return &Uploader{objects: objects, vision: vision, executor: executor}
}

// Upload processes every image or none: the first failure aborts the batch.
func (u *Uploader) Upload(ctx context.Context, uploads []Upload) ([]domain.Attachment, []FileHandle, error) {
	if u.objects == nil {
		return nil, nil, fmt.Errorf("%w: object store not configured", domain.ErrConfig)
	}

	attachments := make([]domain.Attachment, 0, len(uploads))
	handles := make([]FileHandle, 0, len(uploads))
	for _, up := range uploads {
		data, mime, err := readImage(up)
		if err != nil {
			return nil, nil, err
		}

		url, err := u.objects.Put(ctx, up.Name, data)
		if err != nil {
			return nil, nil, fmt.Errorf("store %q: %w", up.Name, err)
		}

		handle, err := Execute(ctx, u.executor, u.vision.Name(), func(ctx context.Context) (FileHandle, error) {
			return u.vision.UploadFile(ctx, data, up.Name, mime)
		})
		if err != nil {
			return nil, nil, err
		}

		attachments = append(attachments, domain.Attachment{URL: url, Name: up.Name, MIME: mime})
		handles = append(handles, handle)
	}
	return attachments, handles, nil
}

func readImage(up Upload) ([]byte, string, error) {
	rc, err := up.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %q: %w", up.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, config.MaxUploadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %q: %w", up.Name, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %q is empty", domain.ErrValidation, up.Name)
	}
	if len(data) > config.MaxUploadSize {
		return nil, "", fmt.Errorf("%w: %q is too large", domain.ErrValidation, up.Name)
	}

	mime := up.MIME
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, "", fmt.Errorf("%w: %q is not an image", domain.ErrValidation, up.Name)
	}
	return data, mime, nil
}
