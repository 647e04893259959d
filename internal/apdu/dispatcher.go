package apdu

import (
	"context"
	"sync"
	"time"

	"trtl-signer/internal/confirm"
	"trtl-signer/internal/crypto"
	"trtl-signer/internal/device"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/metrics"
	"trtl-signer/internal/status"
	"trtl-signer/internal/transaction"
)

// handlerFunc runs one command and returns its response data
type handlerFunc func(ctx context.Context, cmd Command) ([]byte, error)

type route struct {
	// lengths lists the accepted data lengths, nil means no data
	lengths []int
	handle  handlerFunc
}

// Dispatcher runs commands against a device one at a time
type Dispatcher struct {
	mu        sync.Mutex
	dev       *device.Device
	confirmer confirm.Confirmer
	metrics   *metrics.Metrics
	log       *logger.Logger
	routes    map[Instruction]route
}

// NewDispatcher wires the instruction table. m may be nil.
func NewDispatcher(dev *device.Device, confirmer confirm.Confirmer, m *metrics.Metrics) *Dispatcher {
	if confirmer == nil {
		confirmer = confirm.Static(confirm.Reject)
	}
	d := &Dispatcher{
		dev:       dev,
		confirmer: confirmer,
		metrics:   m,
		log:       logger.Default().With("apdu"),
	}
	d.routes = d.buildRoutes()

	m.SetTxState(byte(dev.Tx().State()))
	dev.Tx().OnStateChange(func(s transaction.State) {
		m.SetTxState(byte(s))
	})
	return d
}

// Exchange processes one raw request and returns the raw response
func (d *Dispatcher) Exchange(ctx context.Context, raw []byte) []byte {
	started := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	resp, ins := d.process(ctx, raw)
	defer resp.wipe()

	code := resp.SW
	if code == status.CodeConditionsNotSatisfied && len(resp.Data) == 2 {
		code = status.Code(uint16(resp.Data[0])<<8 | uint16(resp.Data[1]))
	}
	d.metrics.Observe(ins, code, started)
	if code == status.OK {
		d.log.Debug("APDU: command processed", "command", ins, "response_size", len(resp.Data))
	} else {
		d.log.Warn("APDU: command failed", "command", ins,
			"status", code.Label(), "reason", code.String())
	}
	return resp.Bytes()
}

func (d *Dispatcher) process(ctx context.Context, raw []byte) (Response, string) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		code := status.CodeOf(err)
		if code == status.CodeBadClass {
			return bare(code), ""
		}
		return failure(code), ""
	}
	defer crypto.Wipe(cmd.Data)

	name := cmd.Ins.String()
	r, ok := d.routes[cmd.Ins]
	if !ok {
		return bare(status.CodeBadInstruction), name
	}
	if !lengthAccepted(r.lengths, len(cmd.Data)) {
		return failure(status.CodeWrongInputLength), name
	}

	data, err := r.handle(ctx, cmd)
	if err != nil {
		return failure(status.CodeOf(err)), name
	}
	resp := success(data)
	resp.secret = secretResponses[cmd.Ins]
	return resp, name
}

func lengthAccepted(lengths []int, n int) bool {
	if len(lengths) == 0 {
		return n == 0
	}
	for _, l := range lengths {
		if l == n {
			return true
		}
	}
	return false
}

// requireUnused rejects commands that must not run while a transaction is
// being built
func (d *Dispatcher) requireUnused(op string) error {
	if d.dev.Tx().State() != transaction.Unused {
		return status.New(status.CodeTransactionState, op)
	}
	return nil
}

// gate asks for confirmation according to P1. Debug devices skip the
// prompt for P1NonConfirm; commands approved for the whole session skip it
// too.
func (d *Dispatcher) gate(ctx context.Context, cmd Command, p confirm.Prompt) error {
	name := cmd.Ins.String()
	p.Command = name
	if p.AllowAll && d.dev.PreApproved(name) {
		return nil
	}

	switch {
	case cmd.P1 == P1Confirm:
	case cmd.P1 == P1NonConfirm && d.dev.Debug():
		return nil
	default:
		return status.New(status.CodeOpUserRequired, name)
	}

	decision, err := d.confirmer.Confirm(ctx, p)
	if err != nil {
		d.metrics.ObserveConfirmation(name, "error")
		d.log.Warn("APDU: confirmation failed", "command", name, "error", err)
		return status.Wrap(status.CodeOpNotPermitted, name, err)
	}
	d.metrics.ObserveConfirmation(name, decision.String())

	switch decision {
	case confirm.ApproveAll:
		if p.AllowAll {
			d.dev.SetPreApproved(name, true)
		}
		return nil
	case confirm.Approve:
		return nil
	default:
		return status.New(status.CodeOpNotPermitted, name)
	}
}
