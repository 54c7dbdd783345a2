package service

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/set-night/chatbroker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func TestUploader_ClosesEveryFile(t *testing.T) {
	objects := &fakeObjects{}
	vision := &fakeVision{}
	u := NewUploader(objects, vision, NewExecutor())

	var readers []*trackingReader
	open := func(data []byte) func() (io.ReadCloser, error) {
		return func() (io.ReadCloser, error) {
			r := &trackingReader{Reader: bytes.NewReader(data)}
			readers = append(readers, r)
			return r, nil
		}
	}

	attachments, handles, err := u.Upload(context.Background(), []Upload{
		{Name: "a.png", MIME: "image/png", Open: open(pngHeader)},
		{Name: "notes.txt", Open: open([]byte("plain text"))},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Nil(t, attachments)
	assert.Nil(t, handles)

	require.Len(t, readers, 2)
	for _, r := range readers {
		assert.True(t, r.closed)
	}
	assert.Equal(t, []string{"a.png"}, objects.puts)
}

func TestUploader_KeepsDeclaredMIME(t *testing.T) {
	u := NewUploader(&fakeObjects{}, &fakeVision{}, NewExecutor())

	attachments, handles, err := u.Upload(context.Background(), []Upload{
		{Name: "photo.jpg", MIME: "image/jpeg", Open: imageUpload("photo.jpg").Open},
	})
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "image/jpeg", attachments[0].MIME)
	assert.Equal(t, "https://files.test/photo.jpg", handles[0].URI)
}

func TestUploader_EmptyFile(t *testing.T) {
	u := NewUploader(&fakeObjects{}, &fakeVision{}, NewExecutor())

	_, _, err := u.Upload(context.Background(), []Upload{{Name: "empty.png", Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUploader_WithoutObjectStore(t *testing.T) {
	u := NewUploader(nil, &fakeVision{}, NewExecutor())

	_, _, err := u.Upload(context.Background(), []Upload{imageUpload("a.png")})
	assert.ErrorIs(t, err, domain.ErrConfig)
}
