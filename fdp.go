package fdpstat

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ehrlich-b/go-fdpstat/internal/buffer"
	"github.com/ehrlich-b/go-fdpstat/internal/device"
	"github.com/ehrlich-b/go-fdpstat/internal/export"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
	"github.com/ehrlich-b/go-fdpstat/internal/queue"
)

// Params contains parameters for one statistics run
type Params struct {
	// Device is the namespace path (/dev/ngXnY or /dev/nvmeXnY)
	Device string

	// Mode selects the management operation through Opcodes
	Mode string

	// Backend is "io_uring" for a real namespace or "emu" for the emulator
	Backend string

	NumQueues  int    // Queues created for the run (default: 128)
	QueueDepth int    // Command contexts per queue (default: 128)
	BufferSize int    // Payload buffer size in bytes (default: 1MB)
	Select     uint16 // Management operation specific field (default: 1)

	// Opcodes maps mode names to management operations (nil: FEMU defaults)
	Opcodes map[string]uint8

	// Emu configures the emulated namespace when Backend is "emu"
	Emu EmuConfig

	// Textfile, if set, receives the results in Prometheus textfile format
	Textfile string
}

// DefaultParams returns default run parameters for path
func DefaultParams(path string) Params {
	return Params{
		Device:     path,
		Mode:       ModeReset,
		Backend:    BackendIOUring,
		NumQueues:  DefaultQueueCount,
		QueueDepth: DefaultQueueDepth,
		BufferSize: DefaultBufferSize,
		Select:     DefaultSelect,
		Emu:        DefaultEmuConfig(),
	}
}

func (p Params) validate() error {
	if p.Device == "" {
		return NewError("VALIDATE", ErrCodeInvalidParameters, "device path is required")
	}
	if p.NumQueues < 1 || p.NumQueues > MaxQueues {
		return NewError("VALIDATE", ErrCodeInvalidParameters,
			fmt.Sprintf("queue count %d out of range [1,%d]", p.NumQueues, MaxQueues))
	}
	if p.QueueDepth < 1 || p.QueueDepth > MaxQueueDepth {
		return NewError("VALIDATE", ErrCodeInvalidParameters,
			fmt.Sprintf("queue depth %d out of range [1,%d]", p.QueueDepth, MaxQueueDepth))
	}
	if p.BufferSize < nvme.RuhStatusSize {
		return NewError("VALIDATE", ErrCodeInvalidParameters,
			fmt.Sprintf("buffer size %d smaller than RUH status (%d bytes)", p.BufferSize, nvme.RuhStatusSize))
	}
	switch p.Backend {
	case "", BackendIOUring, BackendEmu:
	default:
		return NewError("VALIDATE", ErrCodeInvalidParameters, fmt.Sprintf("unknown backend %q", p.Backend))
	}
	return nil
}

// Options contains additional options for a run
type Options struct {
	// Logger receives progress lines (if nil, none are printed)
	Logger Logger

	// Observer receives lifecycle events in addition to the run's own metrics
	Observer Observer

	// Open, if set, replaces backend selection
	Open func(path string) (Device, error)
}

// Report is the outcome of a run. Failures after setup are recorded as
// Warnings rather than returned.
type Report struct {
	RunID    string
	Device   string
	Mode     string
	MO       uint8
	NSID     uint32
	Geometry Geometry

	Submitted bool  // the ring accepted the command
	Completed bool  // the completion was drained
	Status    int32 // completion status, valid when Completed

	NRUHSD      uint16       // descriptor count as reported by the device
	Descriptors []Descriptor // at most 16
	Clamped     bool         // NRUHSD exceeded the response capacity

	Warnings []error
	Metrics  MetricsSnapshot
}

// Reset reports whether the run asked the device to reset its counters
func (r *Report) Reset() bool {
	return r.MO == MOStatsReset
}

// run carries the state of one Run call
type run struct {
	params Params
	logger *logging.Logger
	out    Logger
	report *Report

	dev    Device
	pool   *queue.Pool
	bufs   *buffer.Manager
	buf    *buffer.Buffer
	engine *queue.Engine
}

func (r *run) printf(format string, args ...interface{}) {
	if r.out != nil {
		r.out.Printf(format, args...)
	}
}

func (r *run) warn(err error) {
	r.report.Warnings = append(r.report.Warnings, err)
	r.logger.Warn("run warning", "error", err)
}

// Run opens the device, sets up the queue pool and payload buffer, sends a
// single IO Management Send command, drains its completion, and tears
// everything down in reverse order.
//
// Run returns an error only when setup fails (bad parameters, device open,
// queue pool, buffer). Every later failure is collected in Report.Warnings
// and teardown still runs.
//
// Example:
//
//	params := fdpstat.DefaultParams("/dev/ng0n1")
//	params.Mode = fdpstat.ModeReadOnly
//	report, err := fdpstat.Run(context.Background(), params, nil)
func Run(ctx context.Context, params Params, options *Options) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = teeObserver{observer, options.Observer}
	}

	runID := uuid.NewString()
	r := &run{
		params: params,
		logger: logging.Default().WithRun(runID).WithDevice(params.Device),
		out:    options.Logger,
		report: &Report{RunID: runID, Device: params.Device, Mode: params.Mode},
	}

	r.engine = queue.NewEngine(queue.OpcodeTable(params.Opcodes), r.logger)
	mo, err := r.engine.Resolve(params.Mode)
	if err != nil {
		return nil, &Error{Op: "RESOLVE_MODE", Queue: -1, Code: ErrCodeInvalidParameters, Msg: err.Error(), Inner: err}
	}
	r.report.MO = mo

	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "OPEN_DEVICE", Device: params.Device, Queue: -1, Code: ErrCodeCanceled, Msg: err.Error(), Inner: err}
	}

	r.logger.SetupStart("open_device")
	dev, err := openDevice(params, options)
	if err != nil {
		r.logger.SetupError("open_device", err)
		e := WrapError("OPEN_DEVICE", err)
		e.Device = params.Device
		return nil, e
	}
	r.dev = dev
	r.logger.SetupSuccess("open_device")
	r.printf("Device opened successfully")

	r.report.Geometry = dev.Geometry()
	if g := r.report.Geometry; g.BlockSize > 0 {
		r.printf("Geometry: %d blocks of %d bytes (%s)", g.Blocks, g.BlockSize, humanize.IBytes(g.Bytes()))
	}

	pool, err := queue.NewPool(queue.PoolConfig{
		Device:   dev,
		Count:    params.NumQueues,
		Depth:    params.QueueDepth,
		Observer: observer,
		Logger:   r.logger,
	})
	if err != nil {
		r.closeDevice()
		e := WrapError("QUEUE_INIT", err)
		e.Device = params.Device
		return nil, e
	}
	r.pool = pool
	r.printf("Queues initialized")

	r.logger.SetupStart("buffer_alloc")
	r.bufs = buffer.NewManager(dev, observer)
	buf, err := r.bufs.Allocate(params.BufferSize)
	if err != nil {
		r.logger.SetupError("buffer_alloc", err)
		r.terminateQueues()
		r.closeDevice()
		e := WrapError("BUFFER_ALLOC", err)
		e.Device = params.Device
		return nil, e
	}
	r.buf = buf
	r.logger.SetupSuccess("buffer_alloc")
	r.logger.Debug("allocated payload buffer", "size", humanize.IBytes(uint64(params.BufferSize)))

	r.report.NSID = dev.NamespaceID()
	r.printf("NSID: %d", r.report.NSID)

	r.printf("Sending IO Management Send command (MO=0x%x)...", mo)
	r.issue(mo)

	r.freeBuffer()
	r.terminateQueues()
	r.closeDevice()

	metrics.Stop()
	r.report.Metrics = metrics.Snapshot()

	if params.Textfile != "" {
		if err := export.WriteTextfile(params.Textfile, r.sample()); err != nil {
			r.warn(WrapError("EXPORT", err))
		}
	}
	return r.report, nil
}

// issue sends one command on a pooled queue and drains it
func (r *run) issue(mo uint8) {
	q, err := r.pool.Acquire()
	if err != nil {
		r.warn(WrapError("ACQUIRE_QUEUE", err))
		return
	}
	defer func() {
		if err := r.pool.Release(q); err != nil {
			r.warn(WrapError("RELEASE_QUEUE", err))
		}
	}()

	c, err := q.GetCmdCtx()
	if err != nil {
		r.warn(qerr("GET_CMD_CTX", q.ID(), err))
		return
	}
	if err := c.Bind(r.onCompletion, r, r.dev); err != nil {
		r.warn(qerr("BIND", q.ID(), err))
		if err := c.Release(); err != nil {
			r.warn(qerr("PUT_CMD_CTX", q.ID(), err))
		}
		return
	}

	_, err = r.engine.SubmitBuffer(c, mo, r.report.NSID, r.params.Select, r.buf, nvme.RuhStatusSize)
	if err != nil {
		r.printf("Failed to submit command: %v", err)
		r.warn(qerr("IO_MGMT_SEND", q.ID(), err))
		if err := c.Release(); err != nil {
			r.warn(qerr("PUT_CMD_CTX", q.ID(), err))
		}
		return
	}
	r.report.Submitted = true

	if _, err := q.Drain(); err != nil {
		r.warn(qerr("DRAIN", q.ID(), err))
	}
	if !r.report.Completed || r.report.Status != 0 {
		return
	}

	descs, raw, err := nvme.DecodeRuhStatus(r.buf.Bytes())
	if err != nil {
		r.warn(WrapError("DECODE", err))
		return
	}
	r.report.NRUHSD = raw.NRUHSD
	r.report.Descriptors = descs
	r.report.Clamped = raw.Clamped()
	if raw.Clamped() {
		r.logger.Warn("device reported more descriptors than fit", "nruhsd", raw.NRUHSD, "shown", len(descs))
	}
}

// onCompletion runs from Drain when the command completes
func (r *run) onCompletion(c *queue.CmdCtx, _ any) {
	status := c.Status()
	r.report.Completed = true
	r.report.Status = status
	if status != 0 {
		r.printf("Command completed with status 0x%x (%s)", status, nvme.StatusString(status))
		r.warn(NewStatusError("IO_MGMT_SEND", c.Queue().ID(), status))
	}
	if err := c.Release(); err != nil {
		r.warn(qerr("PUT_CMD_CTX", c.Queue().ID(), err))
	}
}

func (r *run) freeBuffer() {
	if r.buf == nil {
		return
	}
	if err := r.bufs.Free(r.buf); err != nil {
		r.warn(WrapError("BUFFER_FREE", err))
		return
	}
	r.buf = nil
}

func (r *run) terminateQueues() {
	if r.pool == nil {
		return
	}
	for _, err := range r.pool.TerminateAll() {
		r.printf("Warning: Failed to terminate queue: %v", err)
		r.warn(WrapError("QUEUE_TERM", err))
	}
}

func (r *run) closeDevice() {
	if err := r.dev.Close(); err != nil {
		r.warn(WrapError("CLOSE_DEVICE", err))
	}
}

func (r *run) sample() export.Sample {
	m := r.report.Metrics
	return export.Sample{
		Device:            r.report.Device,
		Mode:              r.report.Mode,
		MO:                r.report.MO,
		NRUHSD:            r.report.NRUHSD,
		Descriptors:       r.report.Descriptors,
		CommandsSubmitted: m.CommandsSubmitted,
		CommandsCompleted: m.CommandsCompleted,
		CommandsFailed:    m.CommandsFailed,
		QueuesCreated:     m.QueuesCreated,
		QueuesTerminated:  m.QueuesTerminated,
		DurationSeconds:   time.Duration(m.DurationNs).Seconds(),
	}
}

func qerr(op string, queueID int, err error) *Error {
	e := WrapError(op, err)
	e.Queue = queueID
	return e
}

func openDevice(params Params, options *Options) (Device, error) {
	if options.Open != nil {
		return options.Open(params.Device)
	}
	switch params.Backend {
	case BackendEmu:
		cfg := params.Emu
		if cfg.Path == "" {
			cfg.Path = params.Device
		}
		return device.NewEmulated(cfg), nil
	default:
		dev, err := device.Open(params.Device)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// teeObserver forwards every event to each observer in turn
type teeObserver []Observer

func (t teeObserver) ObserveQueueInit(ok bool) {
	for _, o := range t {
		o.ObserveQueueInit(ok)
	}
}

func (t teeObserver) ObserveQueueTerm(ok bool) {
	for _, o := range t {
		o.ObserveQueueTerm(ok)
	}
}

func (t teeObserver) ObserveSubmit(accepted bool) {
	for _, o := range t {
		o.ObserveSubmit(accepted)
	}
}

func (t teeObserver) ObserveCompletion(latencyNs uint64, status int32) {
	for _, o := range t {
		o.ObserveCompletion(latencyNs, status)
	}
}

func (t teeObserver) ObserveDrain(completed int, latencyNs uint64, ok bool) {
	for _, o := range t {
		o.ObserveDrain(completed, latencyNs, ok)
	}
}

func (t teeObserver) ObserveBuffer(bytes uint64, alloc bool) {
	for _, o := range t {
		o.ObserveBuffer(bytes, alloc)
	}
}
