package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/trackday/internal/monitoring"
	"github.com/banshee-data/trackday/internal/serialmux"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/timeutil"
)

const (
	// DefaultOBDTimeout bounds one PID request round trip. Bluetooth
	// ELM327 clones routinely take 50-200ms per request.
	DefaultOBDTimeout = 500 * time.Millisecond

	// elmResetTimeout bounds one init command. ATZ reboots the
	// interpreter and its banner can take over a second on clones.
	elmResetTimeout = 2 * time.Second

	// obdInitRetryDelay paces init attempts while the interpreter is
	// unreachable, typically a Bluetooth link still coming up.
	obdInitRetryDelay = 5 * time.Second

	// obdDisconnectThreshold is the consecutive-timeout count after
	// which the interpreter is reported disconnected.
	obdDisconnectThreshold = 5
)

var (
	errRequestTimeout = errors.New("request timed out")
	errSendFailed     = errors.New("send failed")
	errMuxClosed      = errors.New("serial mux closed")
)

// OBD polls an ELM327 interpreter through a serial mux: the fast PIDs
// on every cycle plus one slow PID rotated per cycle, publishing the
// merged decoded values. The interpreter's ">" prompt paces the loop,
// so the poll rate is whatever the link sustains.
type OBD struct {
	*Cache
	mux     serialmux.SerialMuxInterface
	clock   timeutil.Clock
	timeout time.Duration

	// Poll state. Only the Run goroutine touches these.
	timeouts int
	slowIdx  int
	fields   map[string]float64
}

// NewOBD creates an OBD adapter polling through mux. timeout bounds a
// single PID round trip; zero means DefaultOBDTimeout.
func NewOBD(mux serialmux.SerialMuxInterface, clock timeutil.Clock, timeout time.Duration) *OBD {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultOBDTimeout
	}
	return &OBD{
		Cache:   NewCache(telemetry.SourceOBD, telemetry.BySource(telemetry.SourceOBD)),
		mux:     mux,
		clock:   clock,
		timeout: timeout,
		fields:  make(map[string]float64),
	}
}

// Run initializes the interpreter and polls PIDs until ctx is
// cancelled or the mux closes. The mux monitor must be running for
// responses to arrive. Init failures are retried indefinitely; a
// vehicle that is off simply leaves the OBD channels invalid.
func (o *OBD) Run(ctx context.Context) error {
	id, lines := o.mux.Subscribe()
	defer o.mux.Unsubscribe(id)

	for {
		err := o.initialize(ctx, lines)
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errMuxClosed) {
			return err
		}
		o.CountError()
		o.SetConnected(false)
		monitoring.Logf("obd: interpreter init failed (%v), retrying in %v", err, obdInitRetryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.clock.After(obdInitRetryDelay):
		}
	}

	monitoring.Logf("obd: interpreter ready, polling %d fast and %d rotating pids", len(FastPIDs), len(SlowPIDs))

	for {
		if err := o.pollCycle(ctx, lines); err != nil {
			return err
		}
	}
}

// initialize runs the AT setup sequence, draining responses up to each
// prompt.
func (o *OBD) initialize(ctx context.Context, lines <-chan string) error {
	for _, cmd := range InitCommands {
		if err := o.mux.SendCommand(cmd); err != nil {
			return fmt.Errorf("%s: %w: %v", cmd, errSendFailed, err)
		}
		if err := o.drainToPrompt(ctx, lines, elmResetTimeout); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

func (o *OBD) drainToPrompt(ctx context.Context, lines <-chan string, timeout time.Duration) error {
	timer := o.clock.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			return errRequestTimeout
		case token, ok := <-lines:
			if !ok {
				return errMuxClosed
			}
			if token == elmPrompt {
				return nil
			}
		}
	}
}

// pollCycle requests the fast PIDs plus one rotated slow PID and
// publishes the merged values if anything decoded. Request timeouts
// accumulate toward the disconnect threshold; a decoded response
// resets the count and reconnects.
func (o *OBD) pollCycle(ctx context.Context, lines <-chan string) error {
	pids := append(make([]PID, 0, len(FastPIDs)+1), FastPIDs...)
	pids = append(pids, SlowPIDs[o.slowIdx])
	o.slowIdx = (o.slowIdx + 1) % len(SlowPIDs)

	gotAny := false
	for _, pid := range pids {
		v, err := o.request(ctx, lines, pid)
		switch {
		case err == nil:
			o.timeouts = 0
			o.fields[pid.Channel] = v
			gotAny = true
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, errMuxClosed):
			return err
		case errors.Is(err, errRequestTimeout), errors.Is(err, errSendFailed):
			o.CountError()
			o.timeouts++
			if o.timeouts == obdDisconnectThreshold {
				monitoring.Logf("obd: %d consecutive request timeouts, marking disconnected", o.timeouts)
				o.SetConnected(false)
			}
			if errors.Is(err, errSendFailed) {
				// Timeouts pace themselves by waiting out the timer; a
				// failed write returns immediately, so pace it here.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-o.clock.After(o.timeout):
				}
			}
		default:
			// NO DATA or noise on the line. The interpreter answered,
			// so the connection itself is alive.
			o.CountError()
			o.timeouts = 0
		}
	}

	if gotAny {
		fields := make(map[string]float64, len(o.fields))
		for k, v := range o.fields {
			fields[k] = v
		}
		o.Publish(fields, o.clock.Now())
	}
	return nil
}

// request sends one PID request and waits for the decoded value. The
// interpreter terminates every response with its ">" prompt, which the
// split function emits as a separate token.
func (o *OBD) request(ctx context.Context, lines <-chan string, pid PID) (float64, error) {
	if err := o.mux.SendCommand(pid.Command()); err != nil {
		return 0, fmt.Errorf("%w: %v", errSendFailed, err)
	}

	timer := o.clock.NewTimer(o.timeout)
	defer timer.Stop()

	var (
		value   float64
		decoded bool
		lastErr error
	)
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C():
			return 0, errRequestTimeout
		case token, ok := <-lines:
			if !ok {
				return 0, errMuxClosed
			}
			if token == elmPrompt {
				if decoded {
					return value, nil
				}
				if lastErr != nil {
					return 0, lastErr
				}
				return 0, fmt.Errorf("no response before prompt")
			}
			v, err := ParsePIDResponse(pid, token)
			if err != nil {
				// Could be a command echo or a status line; keep
				// draining to the prompt.
				lastErr = err
				continue
			}
			value, decoded = v, true
		}
	}
}
