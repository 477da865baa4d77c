package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"narrator/internal/config"
)

const userAgent = "narrator/0.1.0"

// JobSummary describes a finished generation job.
type JobSummary struct {
	JobID     string
	StoryID   string
	Language  string
	Generated int
	Planned   int
	Failed    int
	Duration  time.Duration
	Elapsed   time.Duration
}

// Service defines the notification surface exposed to the job worker.
type Service interface {
	NotifyJobCompleted(ctx context.Context, summary JobSummary) error
	NotifyJobFailed(ctx context.Context, summary JobSummary, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, s JobSummary) error {
	title := "Narrator - Story Ready"
	message := fmt.Sprintf("Narrated %s (%s): %d chapters, %s", s.StoryID, s.Language, s.Generated, roundDuration(s.Duration))
	tags := []string{"narrator", "job", "completed"}
	if s.Failed > 0 {
		title = "Narrator - Story Ready (with gaps)"
		message = fmt.Sprintf("Narrated %s (%s): %d of %d chapters, %d failed", s.StoryID, s.Language, s.Generated, s.Planned, s.Failed)
		tags = append(tags, "warning")
	}
	return n.send(ctx, payload{title: title, message: message, tags: tags})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, s JobSummary, err error) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Narration failed for %s (%s): ", s.StoryID, s.Language)
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	if s.JobID != "" {
		fmt.Fprintf(&builder, "\nJob: %s", s.JobID)
	}
	return n.send(ctx, payload{
		title:    "Narrator - Job Failed",
		message:  builder.String(),
		tags:     []string{"narrator", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Narrator - Test",
		message:  "Notification system test",
		tags:     []string{"narrator", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func roundDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, JobSummary) error     { return nil }
func (noopService) NotifyJobFailed(context.Context, JobSummary, error) error { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
