package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/scenario"
)

var errInputClosed = errors.New("input closed before the checkout ended")

type terminalOptions struct {
	// Card is used on the first card screen when its number is set.
	Card  remote.CardData
	Email string
	// Auto3DS answers redirect challenges with a successful result.
	Auto3DS    bool
	AssumeYes  bool
	HTTPClient *http.Client
}

// terminal renders scenario screens as text and collects the user's input.
// It is the scenario's Presenter, Delegate and retry Prompter.
type terminal struct {
	lines <-chan string
	out   io.Writer
	opts  terminalOptions

	mu       sync.Mutex
	screen   scenario.Screen
	scenario *scenario.Scenario
	ctx      context.Context
}

func newTerminal(in io.Reader, out io.Writer, opts terminalOptions) *terminal {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &terminal{lines: lines, out: out, opts: opts}
}

// drive starts s and answers each screen until the scenario ends.
func (t *terminal) drive(ctx context.Context, s *scenario.Scenario) error {
	t.mu.Lock()
	t.scenario = s
	t.ctx = ctx
	t.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return t.abort(ctx, s, err)
	}
	for {
		select {
		case <-s.Done():
			return nil
		default:
		}
		if err := t.step(ctx, s, t.current()); err != nil {
			return t.abort(ctx, s, err)
		}
	}
}

func (t *terminal) abort(ctx context.Context, s *scenario.Scenario, err error) error {
	s.Cancel()
	switch {
	case errors.Is(err, io.EOF):
		return errInputClosed
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}

func (t *terminal) step(ctx context.Context, s *scenario.Scenario, screen scenario.Screen) error {
	switch screen.Route.Kind {
	case checkout.RoutePaymentMethod:
		return t.chooseMethod(ctx, s, screen)
	case checkout.RouteBankCard:
		return t.enterCard(ctx, s)
	case checkout.RoutePaidInvoice:
		return s.Finish()
	case checkout.RouteUnpaidInvoice:
		return t.chooseRecovery(ctx, s, screen)
	default:
		return fmt.Errorf("nothing to do on the %s screen", screen.Route.Kind)
	}
}

func (t *terminal) chooseMethod(ctx context.Context, s *scenario.Scenario, screen scenario.Screen) error {
	if len(screen.Items) == 1 {
		return s.SelectMethod(ctx, screen.Items[0].Method)
	}
	for i, item := range screen.Items {
		t.printf("  %d) %s\n", i+1, item.Method)
	}
	answer, err := t.ask(ctx, fmt.Sprintf("Choose a payment method [1-%d, q to quit]: ", len(screen.Items)))
	if err != nil {
		return err
	}
	if answer == "q" {
		s.Cancel()
		return nil
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(screen.Items) {
		t.printf("Unknown choice %q\n", answer)
		return nil
	}
	return s.SelectMethod(ctx, screen.Items[n-1].Method)
}

func (t *terminal) enterCard(ctx context.Context, s *scenario.Scenario) error {
	card := t.opts.Card
	t.opts.Card = remote.CardData{}
	if card.Number == "" {
		var err error
		if card.Number, err = t.ask(ctx, "Card number: "); err != nil {
			return err
		}
		if card.ExpDate, err = t.ask(ctx, "Expiry (MM/YY): "); err != nil {
			return err
		}
		if card.CVV, err = t.ask(ctx, "CVV: "); err != nil {
			return err
		}
	}
	card.Number = strings.ReplaceAll(card.Number, " ", "")

	if t.opts.Email == "" {
		email, err := t.ask(ctx, "Email for the receipt: ")
		if err != nil {
			return err
		}
		t.opts.Email = email
	}
	return s.SubmitCard(ctx, card, t.opts.Email)
}

type choice struct {
	key   string
	label string
	route *checkout.Route
}

func (t *terminal) chooseRecovery(ctx context.Context, s *scenario.Scenario, screen scenario.Screen) error {
	var choices []choice
	if r := screen.Recovery.Retry; r != nil {
		choices = append(choices, choice{"r", "retry", r})
	}
	if r := screen.Recovery.Reenter; r != nil {
		choices = append(choices, choice{"e", "enter other payment data", r})
	}
	if r := screen.Recovery.Restart; r != nil {
		choices = append(choices, choice{"s", "choose another payment method", r})
	}
	choices = append(choices, choice{"c", "cancel", nil})

	keys := make([]string, len(choices))
	for i, c := range choices {
		keys[i] = c.key
		t.printf("  %s) %s\n", c.key, c.label)
	}
	answer, err := t.ask(ctx, fmt.Sprintf("What next? [%s]: ", strings.Join(keys, "/")))
	if err != nil {
		return err
	}
	for _, c := range choices {
		if c.key != answer {
			continue
		}
		if c.route == nil {
			s.Cancel()
			return nil
		}
		return s.Perform(ctx, *c.route)
	}
	t.printf("Unknown choice %q\n", answer)
	return nil
}

// Present implements scenario.Presenter.
func (t *terminal) Present(screen scenario.Screen) {
	t.mu.Lock()
	t.screen = screen
	t.mu.Unlock()

	switch screen.Route.Kind {
	case checkout.RoutePaymentMethod:
		inv := screen.Route.Invoice
		t.printf("Invoice %s: %s for %s\n", inv.ID, inv.Product, screen.Amount)
	case checkout.RouteBankCard:
		t.printf("Pay %s by card\n", screen.Amount)
	case checkout.RoutePaymentProgress:
		t.printf("Processing payment...\n")
	case checkout.RoutePaidInvoice:
		t.printf("Invoice paid: %s\n", screen.Amount)
	case checkout.RouteUnpaidInvoice:
		t.printf("Payment failed: %s\n", screen.Message)
	}
}

// PresentInteraction implements scenario.Presenter. The challenge is
// answered on its own goroutine.
func (t *terminal) PresentInteraction(ui remote.UserInteraction) {
	t.mu.Lock()
	s, ctx := t.scenario, t.ctx
	t.mu.Unlock()

	if ui.Redirect == nil {
		t.printf("Unsupported interaction %v\n", ui.Kind)
		go s.InteractionFailed(fmt.Errorf("unsupported interaction %v", ui.Kind))
		return
	}
	req := *ui.Redirect
	t.printf("3-D Secure verification: %s %s\n", req.Method, req.URI)

	if t.opts.Auto3DS {
		go func() {
			if err := t.completeChallenge(ctx, req); err != nil {
				s.InteractionFailed(err)
				return
			}
			s.InteractionFinished()
		}()
		return
	}
	go func() {
		answer, err := t.ask(ctx, "Press Enter once verified, or type 'fail': ")
		switch {
		case err != nil:
			s.InteractionFailed(err)
		case answer == "fail":
			s.InteractionFailed(errors.New("verification declined by the user"))
		default:
			s.InteractionFinished()
		}
	}()
}

// completeChallenge plays the browser: it sends the challenge request with a
// successful result.
func (t *terminal) completeChallenge(ctx context.Context, req remote.BrowserRequest) error {
	u, err := url.Parse(req.URI)
	if err != nil {
		return fmt.Errorf("invalid challenge URI: %w", err)
	}
	q := u.Query()
	q.Set("result", "success")
	u.RawQuery = q.Encode()

	form := url.Values{}
	for _, f := range req.Form {
		form.Set(f.Key, f.Template)
	}
	var body io.Reader
	if req.Method == remote.RequestPost {
		body = strings.NewReader(form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), u.String(), body)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := t.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("challenge request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("challenge request returned %d", resp.StatusCode)
	}
	return nil
}

// PaymentCancelled implements scenario.Delegate.
func (t *terminal) PaymentCancelled(invoiceID string) {
	t.printf("Payment of invoice %s cancelled\n", invoiceID)
}

// PaymentFinished implements scenario.Delegate.
func (t *terminal) PaymentFinished(invoiceID string, method checkout.PaymentMethod) {
	t.printf("Payment of invoice %s finished with %s\n", invoiceID, method)
}

// PromptRetry implements retry.Prompter.
func (t *terminal) PromptRetry(ctx context.Context, err error) bool {
	if t.opts.AssumeYes {
		t.printf("Request failed: %v. Retrying\n", err)
		return true
	}
	answer, askErr := t.ask(ctx, fmt.Sprintf("Request failed: %v. Retry? [y/N]: ", err))
	if askErr != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func (t *terminal) current() scenario.Screen {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.screen
}

// ask prints prompt and waits for the next input line.
func (t *terminal) ask(ctx context.Context, prompt string) (string, error) {
	t.printf("%s", prompt)
	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
