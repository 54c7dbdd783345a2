package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
)

const defaultImagePrompt = "Analyze these images"

type Providers struct {
	Regular    ChatProvider
	Uncensored ChatProvider
	Documents  interface {
		TextExtractor
		DocumentAnswerer
	}
	Vision VisionProvider
}

// Dispatcher runs one user turn end to end: resolve the session, persist the
// user message, call the provider through the executor, persist the reply.
type Dispatcher struct {
	sessions  *SessionService
	chat      map[domain.Mode]ChatProvider
	documents interface {
		TextExtractor
		DocumentAnswerer
	}
	vision   VisionProvider
	uploader *Uploader
	executor *Executor
}

func NewDispatcher(sessions *SessionService, providers Providers, uploader *Uploader, executor *Executor) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		chat: map[domain.Mode]ChatProvider{
			domain.ModeRegular:    providers.Regular,
			domain.ModeUncensored: providers.Uncensored,
		},
		documents: providers.Documents,
		vision:    providers.Vision,
		uploader:  uploader,
		executor:  executor,
	}
}

// detach keeps the turn alive when the client goes away, bounded by TurnTimeout.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), config.TurnTimeout)
}

type ChatRequest struct {
	Owner     string
	SessionID string
	Mode      domain.Mode
	Message   string
}

type ChatReply struct {
	Response  string
	SessionID string
	Title     string
}

func (d *Dispatcher) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	provider, ok := d.chat[req.Mode]
	if !ok || provider == nil {
		return nil, fmt.Errorf("%w: %q is not a chat mode", domain.ErrInvalidMode, req.Mode)
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	session, err := d.sessions.ResolveOrCreate(ctx, req.SessionID, req.Mode, req.Owner)
	if err != nil {
		return nil, err
	}
	if _, err := d.sessions.AppendMessage(ctx, session.ID, req.Mode, domain.RoleUser, message, nil); err != nil {
		return nil, err
	}
	d.titleFrom(ctx, session.ID, message)

	history, err := d.sessions.BuildContext(ctx, session.ID, req.Mode, config.HistoryLimit)
	if err != nil {
		return nil, err
	}

	reply, err := Execute(ctx, d.executor, provider.Name(), func(ctx context.Context) (string, error) {
		return provider.SendChat(ctx, history)
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.sessions.AppendMessage(ctx, session.ID, req.Mode, domain.RoleAssistant, reply, nil); err != nil {
		return nil, err
	}
	return &ChatReply{Response: reply, SessionID: session.ID, Title: d.currentTitle(ctx, session)}, nil
}

type DocumentRequest struct {
	Owner     string
	SessionID string
	Name      string
	MIME      string
	Data      []byte
}

type DocumentReply struct {
	Text      string
	SessionID string
}

// ExtractDocument stores the extracted text as a system message of an OCR session.
func (d *Dispatcher) ExtractDocument(ctx context.Context, req DocumentRequest) (*DocumentReply, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: file is required", domain.ErrValidation)
	}
	if err := checkReady(d.documents); err != nil {
		return nil, err
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	session, err := d.sessions.ResolveOrCreate(ctx, req.SessionID, domain.ModeOCR, req.Owner)
	if err != nil {
		return nil, err
	}

	text, err := Execute(ctx, d.executor, d.documents.Name(), func(ctx context.Context) (string, error) {
		return d.documents.ExtractText(ctx, req.Data, req.MIME)
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.sessions.AppendMessage(ctx, session.ID, domain.ModeOCR, domain.RoleSystem, text, nil); err != nil {
		return nil, err
	}
	d.titleFrom(ctx, session.ID, req.Name)
	return &DocumentReply{Text: text, SessionID: session.ID}, nil
}

type QuestionRequest struct {
	Owner     string
	SessionID string
	Question  string
}

type QuestionReply struct {
	Answer    string
	SessionID string
	Source    string
}

// AskDocument answers from the latest extracted document of the session, or generally when there is none.
func (d *Dispatcher) AskDocument(ctx context.Context, req QuestionRequest) (*QuestionReply, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrValidation)
	}
	if err := checkReady(d.documents); err != nil {
		return nil, err
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	session, err := d.sessions.ResolveOrCreate(ctx, req.SessionID, domain.ModeOCR, req.Owner)
	if err != nil {
		return nil, err
	}
	doc, err := d.sessions.LatestDocument(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	if _, err := d.sessions.AppendMessage(ctx, session.ID, domain.ModeOCR, domain.RoleUser, question, nil); err != nil {
		return nil, err
	}
	d.titleFrom(ctx, session.ID, question)

	answer, err := Execute(ctx, d.executor, d.documents.Name(), func(ctx context.Context) (*Answer, error) {
		return d.documents.AnswerFromDocument(ctx, doc, question)
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.sessions.AppendMessage(ctx, session.ID, domain.ModeOCR, domain.RoleAssistant, answer.Text, nil); err != nil {
		return nil, err
	}
	return &QuestionReply{Answer: answer.Text, SessionID: session.ID, Source: answer.Source}, nil
}

type ImageRequest struct {
	Owner     string
	SessionID string
	Mode      domain.Mode
	Message   string
	Images    []Upload
}

type ImageReply struct {
	Response    string
	SessionID   string
	Attachments []domain.Attachment
}

// AnalyzeImages uploads the images, records them on the user message and asks the vision provider about them.
func (d *Dispatcher) AnalyzeImages(ctx context.Context, req ImageRequest) (*ImageReply, error) {
	if len(req.Images) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", domain.ErrValidation)
	}
	if len(req.Images) > config.MaxImages {
		return nil, fmt.Errorf("%w: at most %d images are allowed", domain.ErrValidation, config.MaxImages)
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = defaultImagePrompt
	}
	if err := checkReady(d.vision); err != nil {
		return nil, err
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	session, err := d.sessions.ResolveOrCreate(ctx, req.SessionID, req.Mode, req.Owner)
	if err != nil {
		return nil, err
	}

	attachments, handles, err := d.uploader.Upload(ctx, req.Images)
	if err != nil {
		return nil, err
	}

	if _, err := d.sessions.AppendMessage(ctx, session.ID, req.Mode, domain.RoleUser, message, attachments); err != nil {
		return nil, err
	}
	d.titleFrom(ctx, session.ID, message)

	reply, err := Execute(ctx, d.executor, d.vision.Name(), func(ctx context.Context) (string, error) {
		return d.vision.AnalyzeImages(ctx, message, handles)
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.sessions.AppendMessage(ctx, session.ID, req.Mode, domain.RoleAssistant, reply, nil); err != nil {
		return nil, err
	}
	return &ImageReply{Response: reply, SessionID: session.ID, Attachments: attachments}, nil
}

// titleFrom is best effort: a failed title write does not fail the turn.
func (d *Dispatcher) titleFrom(ctx context.Context, sessionID, text string) {
	if _, err := d.sessions.SetTitleIfAbsent(ctx, sessionID, text); err != nil {
		slog.ErrorContext(ctx, "set session title", "error", err, "session_id", sessionID)
	}
}

func (d *Dispatcher) currentTitle(ctx context.Context, session *domain.Session) string {
	fresh, err := d.sessions.store.GetSession(ctx, session.ID)
	if err != nil {
		slog.ErrorContext(ctx, "reload session", "error", err, "session_id", session.ID)
		return session.DisplayTitle()
	}
	return fresh.DisplayTitle()
}
