package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	readability "codeberg.org/readeck/go-readability"
	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/feedloom/feedloom/app/database"
)

const newsletterSummaryLimit = 500

// EmailTracker persists per-message pipeline state so re-ingesting the same
// inbox is idempotent.
type EmailTracker interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	Track(ctx context.Context, record database.ProcessedEmail) error
	UpdateStatus(ctx context.Context, messageID, status, errMsg string) error
}

// Newsletter turns collected raw emails into feed items. Mailbox access and
// OAuth live outside the core; this adapter consumes already-collected .eml
// payloads from a drop directory and tracks each message through the
// collected -> converted -> parsed pipeline.
type Newsletter struct {
	tracker   EmailTracker
	converter *md.Converter
	workers   int
}

func NewNewsletter(tracker EmailTracker, workers int) *Newsletter {
	if workers <= 0 {
		workers = 5
	}
	return &Newsletter{
		tracker:   tracker,
		converter: md.NewConverter("", true, nil),
		workers:   workers,
	}
}

func (n *Newsletter) Type() string {
	return "newsletter"
}

func (n *Newsletter) ConfigSchema() SchemaDescriptor {
	return SchemaDescriptor{
		Fields: []SchemaField{
			{Name: "inbox_dir", Type: "string", Required: true, Description: "Directory with collected .eml payloads"},
		},
	}
}

func (n *Newsletter) FetchItems(ctx context.Context, settings map[string]string) ([]RawItem, error) {
	inboxDir := settings["inbox_dir"]
	if inboxDir == "" {
		return nil, PermanentError(n.Type(), fmt.Errorf("inbox_dir setting is required"))
	}

	if _, err := os.Stat(inboxDir); err != nil {
		return nil, PermanentError(n.Type(), fmt.Errorf("inbox directory not accessible: %w", err))
	}

	files, err := filepath.Glob(filepath.Join(inboxDir, "*.eml"))
	if err != nil {
		return nil, PermanentError(n.Type(), fmt.Errorf("failed to list inbox: %w", err))
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var items []RawItem
	var wg sync.WaitGroup

	for i := 0; i < n.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				item, ok := n.processEmail(ctx, path)
				if ok {
					mu.Lock()
					items = append(items, item)
					mu.Unlock()
				}
			}
		}()
	}

	for _, path := range files {
		select {
		case jobs <- path:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, TransientError(n.Type(), ctx.Err())
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].Title < items[j].Title
	})

	return items, nil
}

// processEmail runs one message through the pipeline. Failures are recorded
// against the message and never abort the whole fetch.
func (n *Newsletter) processEmail(ctx context.Context, path string) (RawItem, bool) {
	envelope, err := parseEmailFile(path)
	if err != nil {
		slog.Warn("Skipping unparseable email", "file", path, "error", err)
		return RawItem{}, false
	}

	processed, err := n.tracker.IsProcessed(ctx, envelope.MessageID)
	if err != nil {
		slog.Warn("Failed to check email state", "message_id", envelope.MessageID, "error", err)
		return RawItem{}, false
	}
	if processed {
		slog.Debug("Email already processed, skipping", "message_id", envelope.MessageID)
		return RawItem{}, false
	}

	err = n.tracker.Track(ctx, database.ProcessedEmail{
		MessageID:   envelope.MessageID,
		Sender:      envelope.Sender,
		Subject:     envelope.Subject,
		CollectedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to track email", "message_id", envelope.MessageID, "error", err)
		return RawItem{}, false
	}

	summary, err := n.convertBody(envelope)
	if err != nil {
		n.recordFailure(ctx, envelope.MessageID, err)
		return RawItem{}, false
	}
	n.updateStatus(ctx, envelope.MessageID, database.EmailStatusConverted)

	if envelope.Subject == "" {
		n.recordFailure(ctx, envelope.MessageID, fmt.Errorf("email has no subject"))
		return RawItem{}, false
	}
	n.updateStatus(ctx, envelope.MessageID, database.EmailStatusParsed)

	return RawItem{
		Title:   envelope.Subject,
		Date:    envelope.Date,
		Summary: summary,
		Metadata: map[string]string{
			"sender":     envelope.Sender,
			"message_id": envelope.MessageID,
		},
	}, true
}

// convertBody extracts the readable portion of an HTML body and renders it as
// markdown; plain-text bodies pass through truncated.
func (n *Newsletter) convertBody(envelope *emailEnvelope) (string, error) {
	if envelope.HTMLBody != "" {
		content := envelope.HTMLBody
		if article, err := readability.FromReader(strings.NewReader(envelope.HTMLBody), nil); err == nil && article.Content != "" {
			content = article.Content
		}

		markdown, err := n.converter.ConvertString(content)
		if err != nil {
			return "", fmt.Errorf("failed to convert HTML body: %w", err)
		}
		return truncate(strings.TrimSpace(markdown), newsletterSummaryLimit), nil
	}

	if envelope.TextBody != "" {
		return truncate(strings.TrimSpace(envelope.TextBody), newsletterSummaryLimit), nil
	}

	return "", fmt.Errorf("email has no usable body")
}

func (n *Newsletter) updateStatus(ctx context.Context, messageID, status string) {
	if err := n.tracker.UpdateStatus(ctx, messageID, status, ""); err != nil {
		slog.Warn("Failed to update email status", "message_id", messageID, "status", status, "error", err)
	}
}

func (n *Newsletter) recordFailure(ctx context.Context, messageID string, cause error) {
	slog.Warn("Email processing failed", "message_id", messageID, "error", cause)
	if err := n.tracker.UpdateStatus(ctx, messageID, database.EmailStatusFailed, cause.Error()); err != nil {
		slog.Warn("Failed to record email failure", "message_id", messageID, "error", err)
	}
}

type emailEnvelope struct {
	MessageID string
	Sender    string
	Subject   string
	Date      time.Time
	HTMLBody  string
	TextBody  string
}

func parseEmailFile(path string) (*emailEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open email file: %w", err)
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	envelope := &emailEnvelope{
		MessageID: strings.Trim(msg.Header.Get("Message-ID"), "<>"),
	}
	if envelope.MessageID == "" {
		// Some newsletters omit Message-ID; fall back to the payload name
		envelope.MessageID = filepath.Base(path)
	}

	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		envelope.Sender = addr.Address
	} else {
		envelope.Sender = msg.Header.Get("From")
	}

	decoder := mime.WordDecoder{}
	if subject, err := decoder.DecodeHeader(msg.Header.Get("Subject")); err == nil {
		envelope.Subject = subject
	} else {
		envelope.Subject = msg.Header.Get("Subject")
	}

	if date, err := msg.Header.Date(); err == nil {
		envelope.Date = date.UTC()
	} else {
		envelope.Date = time.Now().UTC()
	}

	if err := extractBodies(envelope, msg.Header.Get("Content-Type"),
		msg.Header.Get("Content-Transfer-Encoding"), msg.Body); err != nil {
		return nil, err
	}

	return envelope, nil
}

// extractBodies walks the MIME structure collecting the first text/html and
// text/plain parts.
func extractBodies(envelope *emailEnvelope, contentType, transferEncoding string, body io.Reader) error {
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("failed to parse content type: %w", err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message without boundary")
		}
		reader := multipart.NewReader(body, boundary)
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read MIME part: %w", err)
			}
			err = extractBodies(envelope, part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"), part)
			part.Close()
			if err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransferEncoding(body, transferEncoding))
	if err != nil {
		return fmt.Errorf("failed to read email body: %w", err)
	}

	switch {
	case mediaType == "text/html" && envelope.HTMLBody == "":
		envelope.HTMLBody = string(data)
	case mediaType == "text/plain" && envelope.TextBody == "":
		envelope.TextBody = string(data)
	}

	return nil
}

func decodeTransferEncoding(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
