package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agencybridge/sidecar/internal/browser"
	"github.com/agencybridge/sidecar/internal/extractor"
	"github.com/agencybridge/sidecar/internal/logging"
)

// Authenticator logs in and lends out the live page for the duration
// of fn. *extractor.Extractor satisfies it.
type Authenticator interface {
	WithAuthenticatedPage(ctx context.Context, fn func(ctx context.Context, page extractor.Page) error) error
}

// WorkflowSteps describes the UI path from the messages page to a sent
// text, as selector ladders. Like login forms, this markup drifts;
// ladders absorb the drift.
type WorkflowSteps struct {
	MessagesURL string

	Compose   extractor.Ladder
	SendText  extractor.Ladder
	Recipient extractor.Ladder
	Message   extractor.Ladder
	Send      extractor.Ladder

	// FailureSelector locates the UI's failure banner. Its absence
	// after the settle window is the confirmation signal.
	FailureSelector string

	// StepSettle lets the single-page app render between steps;
	// SendSettle is the window watched for the failure banner.
	StepSettle time.Duration
	SendSettle time.Duration
}

// AgencyZoomSteps is the compose-and-send path through AgencyZoom's
// messages UI.
func AgencyZoomSteps() WorkflowSteps {
	return WorkflowSteps{
		MessagesURL: "https://app.agencyzoom.com/messages/index",
		Compose: extractor.Ladder{Field: "compose button", Selectors: []string{
			"button.btn-success",
			"button:has-text('Add')",
			"a:has-text('Add')",
		}},
		SendText: extractor.Ladder{Field: "send-a-text option", Selectors: []string{
			"a:has-text('Send a Text')",
			"a:has-text('Send Text')",
			"li:has-text('Send a Text')",
		}},
		Recipient: extractor.Ladder{Field: "recipient input", Selectors: []string{
			".tagify__input",
			"input[name='recipients']",
			"input[placeholder*='phone' i]",
		}},
		Message: extractor.Ladder{Field: "message textarea", Selectors: []string{
			"#textMessage",
			"textarea[name='message']",
			"textarea",
		}},
		Send: extractor.Ladder{Field: "send button", Selectors: []string{
			"#send-text-btn",
			"button[type='submit']:has-text('Send')",
			"button:has-text('Send')",
		}},
		FailureSelector: ".alert-danger",
		StepSettle:      2 * time.Second,
		SendSettle:      3 * time.Second,
	}
}

// SMSWorkflow is the browser-driven escalation strategy: log in, walk
// the compose dialog, send, and read the UI's verdict.
type SMSWorkflow struct {
	auth  Authenticator
	steps WorkflowSteps
}

// NewSMSWorkflow builds the workflow over an authenticator.
func NewSMSWorkflow(auth Authenticator, steps WorkflowSteps) *SMSWorkflow {
	return &SMSWorkflow{auth: auth, steps: steps}
}

// Run executes the full interaction. The returned evidence describes
// the UI state that confirmed the send; any error means the UI either
// broke the path or showed its failure banner.
func (w *SMSWorkflow) Run(ctx context.Context, target Target) (string, error) {
	var evidence string
	err := w.auth.WithAuthenticatedPage(ctx, func(ctx context.Context, page extractor.Page) error {
		var err error
		evidence, err = w.drive(ctx, page, target)
		return err
	})
	return evidence, err
}

func (w *SMSWorkflow) drive(ctx context.Context, page extractor.Page, target Target) (string, error) {
	s := w.steps

	if s.MessagesURL != "" && !strings.Contains(page.URL(), s.MessagesURL) {
		if err := page.Navigate(ctx, s.MessagesURL, browser.NavigateOptions{WaitUntil: "networkidle"}); err != nil {
			return "", fmt.Errorf("open messages page: %w", err)
		}
		settle(ctx, s.StepSettle)
	}

	if err := w.click(ctx, page, s.Compose); err != nil {
		return "", err
	}
	settle(ctx, s.StepSettle)

	if err := w.click(ctx, page, s.SendText); err != nil {
		return "", err
	}
	settle(ctx, s.StepSettle)

	// The recipient field is a tag widget: the number must be committed
	// with Enter or it is silently dropped from the send.
	recipient, err := s.Recipient.Resolve(ctx, page)
	if err != nil {
		return "", err
	}
	if err := page.Fill(ctx, recipient, target.PhoneNumber); err != nil {
		return "", fmt.Errorf("fill recipient: %w", err)
	}
	if err := page.Press(ctx, recipient, "Enter"); err != nil {
		return "", fmt.Errorf("commit recipient: %w", err)
	}

	message, err := s.Message.Resolve(ctx, page)
	if err != nil {
		return "", err
	}
	if err := page.Fill(ctx, message, target.Message); err != nil {
		return "", fmt.Errorf("fill message: %w", err)
	}

	if err := w.click(ctx, page, s.Send); err != nil {
		return "", err
	}
	settle(ctx, s.SendSettle)

	if s.FailureSelector != "" {
		visible, err := page.IsVisible(ctx, s.FailureSelector)
		if err == nil && visible {
			detail, _ := page.Text(ctx, s.FailureSelector)
			detail = strings.TrimSpace(detail)
			if detail == "" {
				detail = "send rejected by provider UI"
			}
			return "", fmt.Errorf("ui reported failure: %s", detail)
		}
	}

	logging.Infof("full interaction completed for %s", target.PhoneNumber)
	return "compose dialog completed without failure banner", nil
}

func (w *SMSWorkflow) click(ctx context.Context, page extractor.Page, ladder extractor.Ladder) error {
	sel, err := ladder.Resolve(ctx, page)
	if err != nil {
		return err
	}
	if err := page.Click(ctx, sel); err != nil {
		return fmt.Errorf("click %s: %w", ladder.Field, err)
	}
	return nil
}

func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
