package gemini

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"github.com/bdougie/videoqa/internal/artifact"
)

const defaultMIMEType = "video/mp4"

// FileStore implements artifact.Store on the Gemini Files API.
type FileStore struct {
	client *Client
}

func (c *Client) Files() *FileStore {
	return &FileStore{client: c}
}

func (s *FileStore) Upload(ctx context.Context, path, displayName string) (artifact.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	file, err := s.client.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: displayName,
		MIMEType:    mimeTypeOf(path),
	})
	if err != nil {
		return artifact.Handle{}, classify(err)
	}
	s.client.logger.Info("uploaded file", "name", file.Name, "display_name", file.DisplayName)
	return toHandle(file), nil
}

func (s *FileStore) Get(ctx context.Context, name string) (artifact.Handle, error) {
	file, err := s.client.client.GetFile(ctx, name)
	if err != nil {
		return artifact.Handle{}, classify(err)
	}
	return toHandle(file), nil
}

func (s *FileStore) List(ctx context.Context) ([]artifact.Handle, error) {
	var handles []artifact.Handle
	it := s.client.client.ListFiles(ctx)
	for {
		file, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		handles = append(handles, toHandle(file))
	}
	return handles, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := s.client.client.DeleteFile(ctx, name); err != nil {
		return classify(err)
	}
	s.client.logger.Info("deleted file", "name", name)
	return nil
}

func toHandle(f *genai.File) artifact.Handle {
	return artifact.Handle{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		MIMEType:    f.MIMEType,
		State:       toState(f.State),
	}
}

func toState(s genai.FileState) artifact.State {
	switch s {
	case genai.FileStateProcessing:
		return artifact.StateProcessing
	case genai.FileStateActive:
		return artifact.StateActive
	case genai.FileStateFailed:
		return artifact.StateFailed
	}
	return artifact.StateUnspecified
}

func mimeTypeOf(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return defaultMIMEType
}
