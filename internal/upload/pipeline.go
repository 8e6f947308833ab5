// Package upload drives one multipart capture upload at a time and reports
// its lifecycle to an Observer.
//
// Every accepted Begin produces EventStarted, zero or more EventProgress and
// exactly one terminal event (EventCompleted, EventFailed or EventCancelled).
// A capture whose files cannot be read produces a single EventFailedToStart
// instead. Nothing is delivered for an upload after its terminal event.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hpungsan/strabo/internal/capture"
	"github.com/hpungsan/strabo/internal/errors"
	"github.com/hpungsan/strabo/internal/logging"
)

const (
	// progressStep is the minimum change between two progress reports.
	progressStep = 0.01

	maxAckBytes = 64 << 10
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Pipeline.
type Options struct {
	// URL receives the multipart POST. Required.
	URL string
	// Client defaults to a plain *http.Client.
	Client Doer
	// Timeout bounds one whole upload; zero means no limit.
	Timeout  time.Duration
	Observer Observer
	Recorder Recorder
	Logger   logging.Logger
	Now      func() time.Time
}

// Ack is the JSON body a server answers a successful upload with.
type Ack struct {
	Token    string `json:"token"`
	Accepted bool   `json:"accepted"`
}

type attempt struct {
	token   string
	capture *capture.Capture
	body    *body
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	// guarded by Pipeline.mu, written only with Pipeline.emitMu held
	terminal    bool
	startedSent bool
	lastReport  float64
}

// Pipeline uploads one capture at a time. It is safe for concurrent use.
type Pipeline struct {
	url      string
	client   Doer
	timeout  time.Duration
	observer Observer
	recorder Recorder
	log      logging.Logger
	now      func() time.Time

	// emitMu serializes event delivery; it is taken before mu.
	emitMu sync.Mutex

	mu      sync.Mutex
	state   State
	current *attempt
}

// New validates opts and returns an idle pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.URL == "" {
		return nil, errors.NewInvalidRequest("upload URL is required")
	}
	p := &Pipeline{
		url:      opts.URL,
		client:   opts.Client,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		recorder: opts.Recorder,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.observer == nil {
		p.observer = ObserverFunc(func(Event) {})
	}
	if p.log == nil {
		p.log = logging.Nop()
	}
	p.log = p.log.With("component", "upload")
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Begin starts uploading c and returns without waiting for the network.
// It fails with ALREADY_IN_PROGRESS while another upload is in flight, in
// which case no event is emitted. A capture whose files cannot be opened
// moves the pipeline to Failed and yields one EventFailedToStart.
func (p *Pipeline) Begin(c *capture.Capture) error {
	if c == nil {
		return errors.NewInvalidRequest("capture is required")
	}

	p.mu.Lock()
	if p.current != nil {
		tok := p.current.token
		p.mu.Unlock()
		return errors.NewAlreadyInProgress(tok)
	}

	a := &attempt{token: c.Token(), capture: c, started: p.now()}
	b, err := newBody(c)
	if err != nil {
		p.state = Failed
		p.mu.Unlock()
		p.log.Warn(context.Background(), "upload failed to start", "token", a.token, "error", err)
		go p.finish(a, Failed, Event{Kind: EventFailedToStart, Token: a.token, Err: err})
		return nil
	}

	a.body = b
	if p.timeout > 0 {
		a.ctx, a.cancel = context.WithTimeout(context.Background(), p.timeout)
	} else {
		a.ctx, a.cancel = context.WithCancel(context.Background())
	}
	p.current = a
	p.state = Starting
	p.mu.Unlock()

	go p.run(a)
	return nil
}

// CancelCurrent aborts the upload in flight, if any. The EventCancelled is
// delivered before CancelCurrent returns and nothing follows it.
func (p *Pipeline) CancelCurrent() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	a := p.current
	if a == nil || a.terminal {
		p.mu.Unlock()
		return
	}
	a.terminal = true
	sendStarted := !a.startedSent
	a.startedSent = true
	p.current = nil
	p.state = Cancelled
	p.mu.Unlock()

	a.cancel()
	if sendStarted {
		p.deliver(Event{Kind: EventStarted, Token: a.token})
	}
	p.log.Info(a.ctx, "upload cancelled", "token", a.token)
	p.record(a, EventCancelled, nil)
	p.deliver(Event{Kind: EventCancelled, Token: a.token})
}

func (p *Pipeline) run(a *attempt) {
	defer a.body.Close()
	defer a.cancel()

	if !p.start(a) {
		return
	}

	pr := &progressReader{r: a.body, report: func(sent int64) { p.progress(a, sent) }}
	req, err := http.NewRequestWithContext(a.ctx, http.MethodPost, p.url, pr)
	if err != nil {
		p.finish(a, Failed, Event{Kind: EventFailed, Token: a.token, Err: errors.NewInternal(err)})
		return
	}
	req.ContentLength = a.body.size
	req.Header.Set("Content-Type", a.body.contentType)
	req.Header.Set("Accept", "application/json")

	p.log.Debug(a.ctx, "sending upload", "token", a.token, "url", p.url, "bytes", a.body.size)
	resp, err := p.client.Do(req)
	if err != nil {
		p.finish(a, Failed, Event{Kind: EventFailed, Token: a.token, Err: errors.NewTransport(err)})
		return
	}
	defer resp.Body.Close()

	if err := readAck(resp, a.token); err != nil {
		p.finish(a, Failed, Event{Kind: EventFailed, Token: a.token, Err: err})
		return
	}
	p.complete(a)
}

// start delivers EventStarted and moves to InProgress.
func (p *Pipeline) start(a *attempt) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if a.terminal {
		p.mu.Unlock()
		return false
	}
	a.startedSent = true
	p.mu.Unlock()

	p.deliver(Event{Kind: EventStarted, Token: a.token})
	p.log.Info(a.ctx, "upload started", "token", a.token, "bytes", a.body.size)

	p.mu.Lock()
	if p.current == a {
		p.state = InProgress
	}
	p.mu.Unlock()
	return true
}

// progress reports sent/total while the body is being transmitted. The
// final 1.0 is reserved for completion.
func (p *Pipeline) progress(a *attempt, sent int64) {
	total := a.body.size
	if total <= 0 || sent >= total {
		return
	}
	frac := float64(sent) / float64(total)

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if a.terminal || frac-a.lastReport < progressStep {
		p.mu.Unlock()
		return
	}
	a.lastReport = frac
	p.mu.Unlock()

	p.deliver(Event{Kind: EventProgress, Token: a.token, Progress: frac})
}

// complete records the upload date and the journal entry, then delivers the
// final progress and EventCompleted.
func (p *Pipeline) complete(a *attempt) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if !p.end(a, Completed) {
		return
	}

	a.capture.MarkUploaded(p.now())
	if err := a.capture.Save(); err != nil {
		// The server has the capture; a later save will persist the date.
		p.log.Error(a.ctx, "could not save upload date", "token", a.token, "error", err)
	}

	p.log.Info(a.ctx, "upload completed", "token", a.token)
	p.record(a, EventCompleted, nil)
	p.deliver(Event{Kind: EventProgress, Token: a.token, Progress: 1.0})
	p.deliver(Event{Kind: EventCompleted, Token: a.token})
}

// finish delivers a terminal failure event unless a already ended.
func (p *Pipeline) finish(a *attempt, state State, ev Event) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if !p.end(a, state) {
		return
	}
	p.log.Warn(context.Background(), "upload "+ev.Kind.String(), "token", a.token, "error", ev.Err)
	p.record(a, ev.Kind, ev.Err)
	p.deliver(ev)
}

// end marks a terminal. Must be called with emitMu held.
func (p *Pipeline) end(a *attempt, state State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.terminal {
		return false
	}
	a.terminal = true
	if p.current == a {
		p.current = nil
		p.state = state
	}
	return true
}

func (p *Pipeline) deliver(ev Event) {
	p.observer.HandleUploadEvent(ev)
}

func (p *Pipeline) record(a *attempt, kind EventKind, err error) {
	if p.recorder == nil {
		return
	}
	var size int64
	if a.body != nil {
		size = a.body.size
	}
	r := Record{
		Token:      a.token,
		Kind:       kind,
		Err:        err,
		BytesTotal: size,
		StartedAt:  a.started,
		FinishedAt: p.now(),
	}
	if rerr := p.recorder.RecordUpload(context.Background(), r); rerr != nil {
		p.log.Warn(context.Background(), "could not record upload", "token", a.token, "error", rerr)
	}
}

// readAck checks the status and that the server acknowledged tok.
func readAck(resp *http.Response, tok string) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewServer(resp.StatusCode, fmt.Sprintf("server rejected upload: %s", resp.Status))
	}
	if err != nil {
		return errors.NewTransport(err)
	}
	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return errors.NewServer(resp.StatusCode, "malformed acknowledgement")
	}
	if !ack.Accepted || ack.Token != tok {
		return errors.NewServer(resp.StatusCode, fmt.Sprintf("server did not acknowledge token %s", tok))
	}
	return nil
}
