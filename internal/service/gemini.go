package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
)

const (
	extractPrompt = "Extract the raw text content from this file as accurately as possible. " +
		"No extra commentary, just the text in reading order."

	documentPromptHead = "You are given the raw text extracted from a document.\n" +
		"Answer the user's question using ONLY this text. " +
		"If the answer is not in the text, say '" + NotFoundInDocument + "'\n\n"
	generalPromptHead = "Answer the user's question helpfully and concisely.\n\n"
)

var errEmptyCandidates = errors.New("gemini returned no candidates")

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	FileModel   string
	VisionModel string
	HTTPClient  *http.Client
}

func GeminiConfigFrom(cfg *config.Config) GeminiConfig {
	return GeminiConfig{
		APIKey:      cfg.GoogleAPIKey,
		BaseURL:     cfg.GeminiBaseURL,
		TextModel:   cfg.GeminiTextModel,
		FileModel:   cfg.GeminiFileModel,
		VisionModel: cfg.GeminiVisionModel,
	}
}

// GeminiClient serves text extraction, document QA and image analysis.
// It is constructed even without a key; every call then fails with ErrConfig.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client
}

func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.UpstreamTimeout}
	}
	return &GeminiClient{cfg: cfg, httpClient: httpClient}
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) Ready() error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%w: GOOGLE_API_KEY not configured on server", domain.ErrConfig)
	}
	return nil
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
}

func (c *GeminiClient) ExtractText(ctx context.Context, data []byte, mime string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	file, err := c.UploadFile(ctx, data, "document", mime)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, c.cfg.FileModel, []geminiPart{{Text: extractPrompt}, filePart(file)})
}

func (c *GeminiClient) AnswerFromDocument(ctx context.Context, doc *Document, question string) (*Answer, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	prompt, source := questionPrompt(doc, question)
	text, err := c.generate(ctx, c.cfg.TextModel, []geminiPart{{Text: prompt}})
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Source: source}, nil
}

func questionPrompt(doc *Document, question string) (string, string) {
	var b strings.Builder
	if doc == nil {
		b.WriteString(generalPromptHead)
		fmt.Fprintf(&b, "User question: %s\n", question)
		return b.String(), SourceGeneral
	}
	b.WriteString(documentPromptHead)
	fmt.Fprintf(&b, "--- DOCUMENT TEXT START ---\n%s\n--- DOCUMENT TEXT END ---\n\n", doc.Text)
	fmt.Fprintf(&b, "User question: %s\n", question)
	return b.String(), SourceDocument
}

func (c *GeminiClient) AnalyzeImages(ctx context.Context, prompt string, files []FileHandle) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	parts := make([]geminiPart, 0, len(files)+1)
	parts = append(parts, geminiPart{Text: prompt})
	for _, f := range files {
		parts = append(parts, filePart(f))
	}
	return c.generate(ctx, c.cfg.VisionModel, parts)
}

func filePart(f FileHandle) geminiPart {
	return geminiPart{FileData: &geminiFileData{MIMEType: f.MIME, FileURI: f.URI}}
}

// UploadFile stores data with the Files API using the resumable protocol.
func (c *GeminiClient) UploadFile(ctx context.Context, data []byte, name, mime string) (FileHandle, error) {
	if err := c.Ready(); err != nil {
		return FileHandle{}, err
	}

	meta, err := json.Marshal(map[string]any{"file": map[string]string{"display_name": name}})
	if err != nil {
		return FileHandle{}, fmt.Errorf("marshal file metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload/v1beta/files", bytes.NewReader(meta))
	if err != nil {
		return FileHandle{}, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mime)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FileHandle{}, fmt.Errorf("start upload: %w", err)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return FileHandle{}, c.statusError(resp)
	}
	resp.Body.Close()
	if uploadURL == "" {
		return FileHandle{}, errors.New("gemini upload: missing upload url")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return FileHandle{}, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return FileHandle{}, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FileHandle{}, c.statusError(resp)
	}

	var out struct {
		File geminiFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return FileHandle{}, fmt.Errorf("parse upload response: %w", err)
	}
	if out.File.MIMEType == "" {
		out.File.MIMEType = mime
	}
	return FileHandle{Name: out.File.Name, URI: out.File.URI, MIME: out.File.MIMEType}, nil
}

func (c *GeminiClient) generate(ctx context.Context, model string, parts []geminiPart) (string, error) {
	payload, err := json.Marshal(generateRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.statusError(resp)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(genResp.Candidates) == 0 {
		return "", errEmptyCandidates
	}
	var b strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

// statusError also honours the RetryInfo detail Gemini sends on quota errors.
func (c *GeminiClient) statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		Provider:   c.Name(),
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Message:    errorMessage(body),
	}
	if se.RetryAfter == 0 {
		se.RetryAfter = retryDelay(body)
	}
	return se
}

func retryDelay(body []byte) time.Duration {
	var envelope struct {
		Error struct {
			Details []struct {
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return 0
	}
	for _, d := range envelope.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if delay, err := time.ParseDuration(d.RetryDelay); err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}
