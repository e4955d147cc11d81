// sim/coordinator.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmp/tmcsim/log"
	"github.com/mmp/tmcsim/protocol"
	"github.com/mmp/tmcsim/util"

	"github.com/brunoga/deep"
	"github.com/goforj/godump"
)

const (
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultMaxBacklog      = 1000
	DefaultSyncInterval    = 30 * time.Second
	// ParamicsUpdateInterval is the number of simulated seconds between
	// incident updates sent to Paramics.
	ParamicsUpdateInterval = 30
)

type CoordinatorOptions struct {
	// ManualClock disables the 1Hz ticker; the clock then only advances
	// through calls to Tick.
	ManualClock     bool
	CMS             DiversionStore
	Paramics        ParamicsBridge
	DeliveryTimeout time.Duration
	MaxBacklog      int
	// SyncInterval is the period of the traffic network's
	// synchronization points. A simulation started while Paramics is
	// connected waits for the next one.
	SyncInterval time.Duration
	Now          func() time.Time
}

// Coordinator is the single authority for the simulation state. It owns
// the Scheduler and serializes every operation on it, including the
// ticks that advance the clock. Every change is posted to subscribers
// through the Registry; nothing that might block on a remote party is
// called while the coordinator's lock is held.
type Coordinator struct {
	mu util.LoggingMutex

	sched     *Scheduler
	status    ScriptStatus
	script    string
	paramics  ParamicsStatus
	networkID int
	// syncAt is the wall-clock time at which a synchronizing simulation
	// starts running.
	syncAt time.Time

	stream   *EventStream
	registry *Registry
	cms      DiversionStore
	bridge   ParamicsBridge
	opts     CoordinatorOptions

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	lg        *log.Logger
}

func NewCoordinator(opts CoordinatorOptions, lg *log.Logger) *Coordinator {
	if opts.DeliveryTimeout == 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if opts.MaxBacklog == 0 {
		opts.MaxBacklog = DefaultMaxBacklog
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CMS == nil {
		opts.CMS = NewMemoryDiversionStore()
	}
	if opts.Paramics == nil {
		opts.Paramics = &NullParamics{}
	}

	stream := NewEventStream(opts.MaxBacklog, lg)
	c := &Coordinator{
		sched:    NewScheduler(),
		paramics: ParamicsDisconnected,
		stream:   stream,
		registry: NewRegistry(stream, opts.DeliveryTimeout, lg),
		cms:      opts.CMS,
		bridge:   opts.Paramics,
		opts:     opts,
		done:     make(chan struct{}),
		lg:       lg,
	}

	if !opts.ManualClock {
		c.wg.Add(1)
		go c.run()
	}
	return c
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	defer c.lg.CatchAndReportCrash()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Close stops the clock and drops all subscribers.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.registry.Close()
		c.stream.Destroy()
	})
}

// SetDropHandler sets a function to be called when a subscriber is
// dropped after failing to take delivery of an event.
func (c *Coordinator) SetDropHandler(f func(sub Subscriber, err error)) {
	c.registry.mu.Lock()
	defer c.registry.mu.Unlock()
	c.registry.OnDrop = f
}

///////////////////////////////////////////////////////////////////////////
// Clock

// Tick is called once per second of wall-clock time. It moves a
// synchronizing simulation to running once its synchronization point has
// passed and advances the clock of a running simulation.
func (c *Coordinator) Tick() {
	var update []Incident
	var clock int

	c.mu.Lock(c.lg)
	if c.status == Synchronizing && !c.opts.Now().Before(c.syncAt) {
		c.setStatus(Running)
	}
	if c.status == Running {
		c.postWithUpdates(c.sched.Tick())
		clock = c.sched.Clock()
		c.post(Event{Type: TickEvent, Time: clock})

		if clock%ParamicsUpdateInterval == 0 && c.paramics.Connected() {
			update = c.sched.Occurred()
		}
	}
	c.mu.Unlock(c.lg)

	if update != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DeliveryTimeout)
		defer cancel()
		if err := c.bridge.UpdateIncidents(ctx, clock, update); err != nil {
			c.lg.Warn("Paramics incident update failed", slog.Int("sim_time", clock), slog.Any("error", err))
		}
	}
}

///////////////////////////////////////////////////////////////////////////
// Posting events; these must be called with c.mu held.

func (c *Coordinator) post(events ...Event) {
	for _, e := range events {
		c.stream.Post(e)
	}
}

// postWithUpdates posts events from the scheduler followed by an
// IncidentUpdatedEvent for each incident they affected, so that
// subscribers that don't receive the manager-only events still see the
// changes.
func (c *Coordinator) postWithUpdates(events []Event) {
	c.post(events...)

	var changed []int
	for _, e := range events {
		if (e.Type == IncidentStartedEvent || e.Type == EventOccurredEvent) && !slices.Contains(changed, e.LogNumber) {
			changed = append(changed, e.LogNumber)
		}
	}
	for _, ln := range changed {
		c.postIncidentUpdate(ln)
	}
}

func (c *Coordinator) postIncidentUpdate(logNumber int) {
	if inc, ok := c.sched.Incident(logNumber); ok {
		c.post(Event{Type: IncidentUpdatedEvent, Time: c.sched.Clock(), LogNumber: logNumber, Incident: inc})
	}
}

func (c *Coordinator) setStatus(s ScriptStatus) {
	if s == c.status {
		return
	}
	c.lg.Info("script status", slog.String("from", c.status.String()), slog.String("to", s.String()),
		slog.Int("sim_time", c.sched.Clock()))
	c.status = s
	c.post(Event{Type: ScriptStatusEvent, Time: c.sched.Clock(), Status: s})
}

///////////////////////////////////////////////////////////////////////////
// Scripts

// LoadScriptFile loads a script from disk and replaces the current one.
func (c *Coordinator) LoadScriptFile(path string) error {
	s, err := LoadScriptFile(path)
	return c.install(s, err)
}

// LoadScript reads a script from r and replaces the current one.
func (c *Coordinator) LoadScript(r io.Reader, name string) error {
	s, err := LoadScript(r, name)
	return c.install(s, err)
}

// install replaces the current incidents with those of the script. If
// the script couldn't be loaded, the current incidents are kept but the
// simulation is reset.
func (c *Coordinator) install(s *Script, loadErr error) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if loadErr != nil {
		c.lg.Warn("script load failed", slog.Any("error", loadErr))
		if c.sched.NumIncidents() > 0 {
			c.reset()
		} else {
			c.setStatus(NoScript)
		}
		return loadErr
	}

	c.clear()
	for _, inc := range s.Incidents {
		if err := c.sched.Add(inc); err != nil {
			// The loader has already checked for everything Add does.
			c.lg.Errorf("%s: %v", s.Name, err)
			continue
		}
		inc, _ := c.sched.Incident(inc.LogNumber)
		c.post(Event{Type: IncidentAddedEvent, LogNumber: inc.LogNumber, Incident: inc})
	}
	c.script = s.Name
	c.setStatus(Ready)
	c.post(Event{Type: TickEvent})

	c.lg.Info("loaded script", slog.String("script", s.Name), slog.Int("incidents", len(s.Incidents)))
	if c.lg != nil && c.lg.Enabled(context.Background(), slog.LevelDebug) {
		c.lg.Debug("script incidents", slog.String("dump", godump.DumpStr(c.sched.Incidents())))
	}
	return nil
}

// clear removes all incidents; c.mu must be held.
func (c *Coordinator) clear() {
	for _, inc := range c.sched.Incidents() {
		c.post(Event{Type: IncidentRemovedEvent, Time: c.sched.Clock(), LogNumber: inc.LogNumber})
	}
	c.sched.Clear()
	c.script = ""
	c.post(Event{Type: ResetEvent})
}

// UnloadScript removes all incidents.
func (c *Coordinator) UnloadScript() {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	c.clear()
	c.setStatus(NoScript)
	c.post(Event{Type: TickEvent})
}

///////////////////////////////////////////////////////////////////////////
// Run control

func (c *Coordinator) requireScript() error {
	if c.status == NoScript {
		return scriptError(ErrNoScriptLoaded)
	}
	return nil
}

// StartSimulation starts or resumes the clock. If Paramics is connected,
// the simulation synchronizes with its next synchronization point first.
func (c *Coordinator) StartSimulation() error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.requireScript(); err != nil {
		return err
	}
	if c.status == Running || c.status == Synchronizing {
		return nil
	}

	if c.paramics.Connected() {
		c.syncAt = util.NextBoundary(c.opts.Now(), c.opts.SyncInterval)
		c.lg.Info("synchronizing", slog.Time("sync_at", c.syncAt))
		c.setStatus(Synchronizing)
	} else {
		c.setStatus(Running)
	}
	return nil
}

// PauseSimulation stops the clock. Pausing a simulation that hasn't been
// started does nothing.
func (c *Coordinator) PauseSimulation() error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.requireScript(); err != nil {
		return err
	}
	if c.status == Running || c.status == Synchronizing {
		c.setStatus(Paused)
	}
	return nil
}

// ResetSimulation returns the clock to zero and all incidents and CMS
// diversions to their initial state.
func (c *Coordinator) ResetSimulation() error {
	c.mu.Lock(c.lg)
	if err := c.requireScript(); err != nil {
		c.mu.Unlock(c.lg)
		return err
	}
	c.reset()
	c.mu.Unlock(c.lg)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DeliveryTimeout)
	defer cancel()
	if err := c.bridge.Reset(ctx); err != nil {
		c.lg.Warn("Paramics reset failed", slog.Any("error", err))
	}
	return nil
}

// reset must be called with c.mu held.
func (c *Coordinator) reset() {
	c.sched.Reset()
	c.post(Event{Type: ResetEvent})
	for _, inc := range c.sched.Incidents() {
		c.post(Event{Type: IncidentUpdatedEvent, LogNumber: inc.LogNumber, Incident: &inc})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DeliveryTimeout)
	defer cancel()
	if err := c.cms.Reset(ctx); err != nil {
		c.lg.Error("CMS reset failed", slog.Any("error", err))
	} else if all, err := c.cms.All(ctx); err == nil {
		for _, ci := range all {
			c.post(Event{Type: DiversionEvent, CMS: &ci})
		}
	}

	c.setStatus(Ready)
	c.post(Event{Type: TickEvent})
}

// GotoSimulationTime moves the clock to the given time, firing or
// un-firing incidents and events so that the state is the same as if the
// simulation had run there from the start.
func (c *Coordinator) GotoSimulationTime(seconds int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.requireScript(); err != nil {
		return err
	}

	from := c.sched.Clock()
	events, err := c.sched.Goto(seconds)
	if err != nil {
		return err
	}
	c.lg.Info("goto", slog.Int("from", from), slog.Int("sim_time", seconds))

	// The tick that ends the batch goes out after the status change and
	// incident updates.
	tick := events[len(events)-1]
	c.postWithUpdates(events[:len(events)-1])
	if c.status == Ready && seconds > 0 {
		c.setStatus(Paused)
	}
	c.post(tick)
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Incidents

// TriggerIncident makes an incident occur now.
func (c *Coordinator) TriggerIncident(logNumber int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.requireScript(); err != nil {
		return err
	}
	if c.status != Running && c.status != Paused {
		return scriptError(ErrSimNotStarted, c.status.String())
	}

	events, err := c.sched.Trigger(logNumber)
	if err != nil {
		return err
	}
	c.lg.Info("triggered incident", slog.Int("log_number", logNumber), slog.Int("sim_time", c.sched.Clock()))
	c.postWithUpdates(events)
	return nil
}

// DeleteIncident removes an incident. Deleting the last one leaves the
// coordinator without a script.
func (c *Coordinator) DeleteIncident(logNumber int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.requireScript(); err != nil {
		return err
	}
	if err := c.sched.Delete(logNumber); err != nil {
		return err
	}
	c.post(Event{Type: IncidentRemovedEvent, Time: c.sched.Clock(), LogNumber: logNumber},
		Event{Type: IncidentDeletedEvent, Time: c.sched.Clock(), LogNumber: logNumber})
	c.lg.Info("deleted incident", slog.Int("log_number", logNumber), slog.Int("sim_time", c.sched.Clock()))

	if c.sched.NumIncidents() == 0 {
		c.clear()
		c.setStatus(NoScript)
		c.post(Event{Type: TickEvent})
	}
	return nil
}

// RescheduleIncident changes the start time of an incident that hasn't
// yet occurred.
func (c *Coordinator) RescheduleIncident(logNumber int, seconds int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if err := c.requireScript(); err != nil {
		return err
	}
	inc, err := c.sched.Reschedule(logNumber, seconds)
	if err != nil {
		return err
	}
	c.post(Event{Type: IncidentUpdatedEvent, Time: c.sched.Clock(), LogNumber: logNumber, Incident: inc})
	return nil
}

// AddIncident adds a new incident to the simulation.
func (c *Coordinator) AddIncident(inc Incident) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	n := deep.MustCopy(&inc)
	if n.InitialHeader == (IncidentHeader{}) {
		n.InitialHeader = n.Header
	}
	n.sortEvents()
	if err := c.sched.Add(n); err != nil {
		return err
	}
	added, _ := c.sched.Incident(n.LogNumber)
	c.post(Event{Type: IncidentAddedEvent, Time: c.sched.Clock(), LogNumber: n.LogNumber, Incident: added})

	if c.status == NoScript {
		c.setStatus(Ready)
	}
	return nil
}

// CommandLineUpdate records an incident update entered at a terminal as a
// completed event of the incident. logNumber is used if the command
// doesn't name an incident.
func (c *Coordinator) CommandLineUpdate(position int, cmd protocol.Command, logNumber int) (*Incident, error) {
	if cmd.Type != protocol.CommandIncidentUpdate {
		return nil, scriptError(ErrInvalidCommand, cmd.String())
	}
	if cmd.LogNumber > 0 {
		logNumber = cmd.LogNumber
	}
	payload := PayloadFromCommand(cmd)
	if payload.Empty() {
		return nil, scriptError(ErrInvalidCommand, cmd.String())
	}

	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if inc, ok := c.sched.Incident(logNumber); !ok || !inc.Occurred {
		return nil, scriptError(ErrUnknownIncident, strconv.Itoa(logNumber))
	}
	inc, err := c.sched.AddUpdate(logNumber, payload)
	if err != nil {
		return nil, err
	}
	c.lg.Info("incident update", slog.Int("position", position), slog.String("command", cmd.String()),
		slog.Int("sim_time", c.sched.Clock()))
	c.post(Event{Type: IncidentUpdatedEvent, Time: c.sched.Clock(), LogNumber: logNumber, Incident: inc})
	return inc, nil
}

// RouteMessage sends a message from one terminal position to others. If
// the message refers to an occurred incident, it is also recorded in that
// incident's details.
func (c *Coordinator) RouteMessage(msg RoutedMessage) error {
	if len(msg.Destinations) == 0 {
		return scriptError(ErrInvalidCommand, "routed message has no destinations")
	}

	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	m := deep.MustCopy(&msg)
	m.Time = c.sched.Clock()
	c.post(Event{Type: RoutedMessageEvent, Time: m.Time, LogNumber: m.LogNumber, Message: m})

	if inc, ok := c.sched.Incident(m.LogNumber); ok && inc.Occurred {
		dests := util.MapSlice(m.Destinations, strconv.Itoa)
		note := fmt.Sprintf("Routed message from %d to %s: %s", m.From, strings.Join(dests, ","), m.Text)
		if inc, err := c.sched.AddUpdate(m.LogNumber, EventPayload{Details: []Detail{{Text: note}}}); err == nil {
			c.post(Event{Type: IncidentUpdatedEvent, Time: m.Time, LogNumber: m.LogNumber, Incident: inc})
		}
	}
	return nil
}

// CompleteEvent marks a triggered event as completed, as when its audio
// clip has finished playing.
func (c *Coordinator) CompleteEvent(logNumber int, index int) error {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	ev, err := c.sched.Complete(logNumber, index)
	if err != nil {
		return err
	}
	c.post(Event{Type: EventOccurredEvent, Time: c.sched.Clock(), LogNumber: logNumber, EventIndex: index,
		IncidentEvent: ev})
	c.postIncidentUpdate(logNumber)
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Paramics

// SetParamicsStatus records the status reported by the Paramics bridge.
func (c *Coordinator) SetParamicsStatus(p ParamicsStatus) error {
	if !p.Valid() {
		return scriptError(ErrInvalidParamicsStatus, strconv.Itoa(int(p)))
	}

	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	if p == c.paramics {
		return nil
	}
	c.lg.Info("Paramics status", slog.String("from", c.paramics.String()), slog.String("to", p.String()))
	if p == ParamicsDropped {
		c.lg.Warn("connection to Paramics has been dropped")
	}
	c.paramics = p
	c.post(Event{Type: ParamicsStatusEvent, Time: c.sched.Clock(), Paramics: p})

	// There's nothing to synchronize with any more.
	if !p.Connected() && c.status == Synchronizing {
		c.setStatus(Running)
	}
	return nil
}

func (c *Coordinator) ConnectToParamics(ctx context.Context) error {
	_ = c.SetParamicsStatus(ParamicsConnecting)
	if err := c.bridge.Connect(ctx); err != nil {
		c.lg.Error("unable to connect to Paramics", slog.Any("error", err))
		_ = c.SetParamicsStatus(ParamicsUnreachable)
		return err
	}
	return c.SetParamicsStatus(ParamicsConnected)
}

func (c *Coordinator) DisconnectFromParamics(ctx context.Context) error {
	err := c.bridge.Disconnect(ctx)
	if err != nil {
		c.lg.Warn("Paramics disconnect", slog.Any("error", err))
	}

	c.mu.Lock(c.lg)
	c.networkID = 0
	c.post(Event{Type: NetworkLoadedEvent, Time: c.sched.Clock()})
	c.mu.Unlock(c.lg)

	_ = c.SetParamicsStatus(ParamicsDisconnected)
	return err
}

// LoadParamicsNetwork asks Paramics to load the given traffic network.
func (c *Coordinator) LoadParamicsNetwork(ctx context.Context, networkID int) error {
	c.mu.Lock(c.lg)
	prev := c.paramics
	c.mu.Unlock(c.lg)

	if !prev.Connected() {
		return scriptError(ErrParamicsNotConnected)
	}
	if err := c.SetParamicsStatus(ParamicsLoading); err != nil {
		return err
	}
	if err := c.bridge.LoadNetwork(ctx, networkID); err != nil {
		c.lg.Warn("unable to load Paramics network", slog.Int("network", networkID), slog.Any("error", err))
		if serr := c.SetParamicsStatus(prev); serr != nil {
			c.lg.Error("unable to restore Paramics status", slog.Any("error", serr))
		}
		return err
	}

	c.mu.Lock(c.lg)
	c.networkID = networkID
	c.post(Event{Type: NetworkLoadedEvent, Time: c.sched.Clock(), NetworkID: networkID})
	c.mu.Unlock(c.lg)
	return nil
}

func (c *Coordinator) GetParamicsNetworkLoaded() int {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.networkID
}

///////////////////////////////////////////////////////////////////////////
// CMS diversions

// ApplyDiversions sets the diversion percentages of a CMS. The
// diversions of info must correspond one-to-one with the stored ones;
// only their current percentages are taken from info.
func (c *Coordinator) ApplyDiversions(ctx context.Context, info CMSInfo) error {
	stored, err := c.cms.Get(ctx, info.ID)
	if err != nil {
		return err
	}
	if len(info.Diversions) != len(stored.Diversions) {
		return scriptError(ErrInvalidDiversion, fmt.Sprintf("%s: %d diversions given, %d defined", info.ID,
			len(info.Diversions), len(stored.Diversions)))
	}

	c.mu.Lock(c.lg)
	now := c.sched.Clock()
	c.mu.Unlock(c.lg)

	for i, d := range info.Diversions {
		sd := &stored.Diversions[i]
		sd.SetCurrent(d.CurrentDiversionPercent)
		if sd.Updated {
			sd.TimeApplied = now
		}
	}
	if err := c.cms.Update(ctx, stored); err != nil {
		return err
	}

	c.mu.Lock(c.lg)
	c.post(Event{Type: DiversionEvent, Time: c.sched.Clock(), CMS: deep.MustCopy(&stored)})
	c.mu.Unlock(c.lg)

	c.lg.Info("applied diversions", slog.String("cms", stored.ID), slog.Int("sim_time", now))
	if err := c.bridge.ApplyDiversion(ctx, stored); err != nil {
		c.lg.Warn("Paramics diversion update failed", slog.String("cms", stored.ID), slog.Any("error", err))
	}
	return nil
}

func (c *Coordinator) GetCMSDiversionInfo(ctx context.Context, id string) (CMSInfo, error) {
	return c.cms.Get(ctx, id)
}

func (c *Coordinator) GetCMSIDs(ctx context.Context) ([]string, error) {
	return c.cms.IDs(ctx)
}

///////////////////////////////////////////////////////////////////////////
// Subscribers

// RegisterForCallback adds a subscriber. It is sent the returned
// snapshot of the current state and then every subsequent event.
func (c *Coordinator) RegisterForCallback(sub Subscriber) Snapshot {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	snap := c.snapshot()
	c.registry.Register(sub, snap)
	return snap
}

// UnregisterForCallback removes a subscriber; unknown ids are ignored.
func (c *Coordinator) UnregisterForCallback(id string) {
	c.registry.Unregister(id)
}

func (c *Coordinator) Subscribers(role Role) []string {
	return c.registry.Subscribers(role)
}

// snapshot must be called with c.mu held.
func (c *Coordinator) snapshot() Snapshot {
	snap := Snapshot{
		Time:      c.sched.Clock(),
		Status:    c.status,
		Paramics:  c.paramics,
		NetworkID: c.networkID,
		Incidents: c.sched.Incidents(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DeliveryTimeout)
	defer cancel()
	if all, err := c.cms.All(ctx); err != nil {
		c.lg.Error("CMS diversions", slog.Any("error", err))
	} else {
		snap.Diversions = all
	}
	return snap
}

///////////////////////////////////////////////////////////////////////////
// Queries

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.snapshot()
}

func (c *Coordinator) Status() ScriptStatus {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.status
}

func (c *Coordinator) ParamicsStatus() ParamicsStatus {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.paramics
}

func (c *Coordinator) Time() int {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.sched.Clock()
}

func (c *Coordinator) ScriptName() string {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.script
}

// Incidents returns copies of all incidents, sorted by start time.
func (c *Coordinator) Incidents() []Incident {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.sched.Incidents()
}

// Incident returns a copy of the given incident.
func (c *Coordinator) Incident(logNumber int) (*Incident, bool) {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)
	return c.sched.Incident(logNumber)
}

// TriggeredEvent identifies an event that has fired but not completed.
type TriggeredEvent struct {
	LogNumber int
	Index     int
	Event     IncidentEvent
}

// TriggeredEvents returns the events that are waiting to be completed.
func (c *Coordinator) TriggeredEvents() []TriggeredEvent {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	var te []TriggeredEvent
	for _, inc := range c.sched.Occurred() {
		for i, e := range inc.Events {
			if e.Status == EventTriggered {
				te = append(te, TriggeredEvent{LogNumber: inc.LogNumber, Index: i, Event: e})
			}
		}
	}
	return te
}

// implements slog.LogValuer
func (c *Coordinator) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("script", c.script),
		slog.String("status", c.status.String()),
		slog.Int("sim_time", c.sched.Clock()),
		slog.Int("incidents", c.sched.NumIncidents()),
		slog.Any("stream", c.stream))
}
