// download/group.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package download

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/units"
	"github.com/mmp/enroute/util"
)

// DefaultContentChangedDelay is how long a Group waits after the last
// change of a member's file before LocalFileContentChangedDelayed fires.
const DefaultContentChangedDelay = 2 * time.Second

type member struct {
	d     *Downloadable
	conns []util.ConnectionID
	// connection on d.FileContentChanged, disconnected separately
	contentConn util.ConnectionID
	closedConn  util.ConnectionID
}

// Group tracks a set of Downloadables and maintains aggregate state over
// them. A Downloadable may belong to several groups; the group does not
// own its members, and members that are closed drop out of it.
//
// Aggregate listeners are only notified when the aggregate value actually
// changes.
type Group struct {
	Name string

	lg    *log.Logger
	delay time.Duration

	mu      sync.Mutex
	members []*member
	timer   *time.Timer
	timerID int

	// latest is the most recently computed state and emitted the one the
	// listeners last heard about. While emitting is set, one goroutine
	// delivers changes; others only update latest and set dirty.
	latest   groupState
	emitted  groupState
	emitting bool
	dirty    bool

	DownloadablesChanged           util.Notifier
	DownloadablesWithFileChanged   util.Notifier
	DownloadingChanged             util.Signal[bool]
	HasFileChanged                 util.Signal[bool]
	UpdatableChanged               util.Signal[bool]
	FilesChanged                   util.Signal[[]string]
	UpdateSizeChanged              util.Signal[string]
	NumberOfFilesTotalChanged      util.Signal[int]
	LocalFileContentChanged        util.Notifier
	LocalFileContentChangedDelayed util.Notifier
}

type groupState struct {
	withFile           []*Downloadable
	downloading        bool
	hasFile            bool
	updatable          bool
	files              []string
	updateSize         string
	numberOfFilesTotal int
}

func NewGroup(name string, lg *log.Logger) *Group {
	g := &Group{
		Name:  name,
		lg:    lg,
		delay: DefaultContentChangedDelay,
	}
	g.latest = computeState(nil)
	g.emitted = g.latest
	return g
}

// SetContentChangedDelay changes the debounce interval of
// LocalFileContentChangedDelayed.
func (g *Group) SetContentChangedDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delay = d
}

// liveMembersLocked prunes closed members and returns the remaining ones.
func (g *Group) liveMembersLocked() []*Downloadable {
	g.members = slices.DeleteFunc(g.members, func(m *member) bool { return m.d.IsClosed() })
	return util.MapSlice(g.members, func(m *member) *Downloadable { return m.d })
}

func (g *Group) indexLocked(d *Downloadable) int {
	return slices.IndexFunc(g.members, func(m *member) bool { return m.d == d })
}

// AddToGroup adds d to the group; adding a member twice does nothing.
func (g *Group) AddToGroup(d *Downloadable) {
	g.mu.Lock()
	if g.indexLocked(d) >= 0 || d.IsClosed() {
		g.mu.Unlock()
		return
	}

	m := &member{
		d: d,
		conns: []util.ConnectionID{
			d.DownloadingChanged.Connect(g.checkAndEmitSignals),
			d.UpdatableChanged.Connect(g.checkAndEmitSignals),
			d.HasFileChanged.Connect(g.checkAndEmitSignals),
		},
		contentConn: d.FileContentChanged.Connect(g.memberContentChanged),
		closedConn:  d.Closed.Connect(g.prune),
	}
	g.members = append(g.members, m)
	g.mu.Unlock()

	g.checkAndEmitSignals()
	g.DownloadablesChanged.Notify()
}

// RemoveFromGroup removes d from the group; removing a non-member does
// nothing.
func (g *Group) RemoveFromGroup(d *Downloadable) {
	g.mu.Lock()
	idx := g.indexLocked(d)
	if idx < 0 {
		g.mu.Unlock()
		return
	}
	m := g.members[idx]
	g.members = slices.Delete(g.members, idx, idx+1)
	g.mu.Unlock()

	d.DownloadingChanged.Disconnect(m.conns[0])
	d.UpdatableChanged.Disconnect(m.conns[1])
	d.HasFileChanged.Disconnect(m.conns[2])
	d.FileContentChanged.Disconnect(m.contentConn)
	d.Closed.Disconnect(m.closedConn)

	g.checkAndEmitSignals()
	g.DownloadablesChanged.Notify()
}

func (g *Group) prune() {
	g.mu.Lock()
	n := len(g.members)
	g.liveMembersLocked()
	pruned := len(g.members) != n
	g.mu.Unlock()

	if pruned {
		g.checkAndEmitSignals()
		g.DownloadablesChanged.Notify()
	}
}

// Downloadables returns the members sorted by section and file name.
func (g *Group) Downloadables() []*Downloadable {
	g.mu.Lock()
	ds := g.liveMembersLocked()
	g.mu.Unlock()

	slices.SortFunc(ds, Compare)
	return ds
}

// DownloadablesWithFile returns the members that have a local file,
// sorted by section and file name.
func (g *Group) DownloadablesWithFile() []*Downloadable {
	return util.FilterSlice(g.Downloadables(), (*Downloadable).HasFile)
}

// DownloadablesByFileName returns the members keyed by local file name.
func (g *Group) DownloadablesByFileName() map[string]*Downloadable {
	m := make(map[string]*Downloadable)
	for _, d := range g.Downloadables() {
		m[d.FileName()] = d
	}
	return m
}

func (g *Group) Downloading() bool { return g.state().downloading }
func (g *Group) HasFile() bool { return g.state().hasFile }
func (g *Group) Updatable() bool { return g.state().updatable }
func (g *Group) Files() []string { return g.state().files }
func (g *Group) UpdateSize() string { return g.state().updateSize }
func (g *Group) NumberOfFilesTotal() int { return g.state().numberOfFilesTotal }

func (g *Group) state() groupState {
	g.mu.Lock()
	ds := g.liveMembersLocked()
	g.mu.Unlock()
	return computeState(ds)
}

func computeState(ds []*Downloadable) groupState {
	ds = slices.Clone(ds)
	slices.SortFunc(ds, Compare)

	var s groupState
	var updateBytes int64
	for _, d := range ds {
		downloading, hasFile, updatable := d.Downloading(), d.HasFile(), d.Updatable()

		s.downloading = s.downloading || downloading
		s.hasFile = s.hasFile || hasFile
		s.updatable = s.updatable || updatable
		if hasFile {
			s.withFile = append(s.withFile, d)
			s.files = append(s.files, d.FileName())
		}
		if hasFile || downloading {
			s.numberOfFilesTotal++
		}
		if updatable {
			updateBytes += max(d.RemoteFileSize(), 0)
		}
	}
	slices.Sort(s.files)
	s.updateSize = units.FormatDataSize(updateBytes)
	return s
}

// checkAndEmitSignals recomputes the aggregates and notifies the
// listeners of those that changed. Notifications are serialized, so that
// listeners see each aggregate change in order and end up with its
// current value. If another goroutine, or a listener further up the
// stack, is already notifying, the new state is left for it to deliver.
func (g *Group) checkAndEmitSignals() {
	g.mu.Lock()
	g.latest = computeState(g.liveMembersLocked())
	if g.emitting {
		g.dirty = true
		g.mu.Unlock()
		return
	}
	g.emitting = true

	for {
		old, s := g.emitted, g.latest
		g.emitted = s
		g.dirty = false
		g.mu.Unlock()

		g.emitChanges(old, s)

		g.mu.Lock()
		if !g.dirty {
			g.emitting = false
			g.mu.Unlock()
			return
		}
	}
}

func (g *Group) emitChanges(old, s groupState) {
	if !slices.Equal(s.withFile, old.withFile) {
		g.DownloadablesWithFileChanged.Notify()
	}
	if s.downloading != old.downloading {
		g.DownloadingChanged.Emit(s.downloading)
	}
	if !slices.Equal(s.files, old.files) {
		g.FilesChanged.Emit(slices.Clone(s.files))
	}
	if s.hasFile != old.hasFile {
		g.HasFileChanged.Emit(s.hasFile)
	}
	if s.updatable != old.updatable {
		g.UpdatableChanged.Emit(s.updatable)
	}
	if s.updateSize != old.updateSize {
		g.UpdateSizeChanged.Emit(s.updateSize)
	}
	if s.numberOfFilesTotal != old.numberOfFilesTotal {
		g.NumberOfFilesTotalChanged.Emit(s.numberOfFilesTotal)
	}
}

func (g *Group) memberContentChanged() {
	g.checkAndEmitSignals()
	g.LocalFileContentChanged.Notify()

	// (Re)start the timer for the delayed notification.
	g.mu.Lock()
	g.startTimerLocked()
	g.mu.Unlock()
}

func (g *Group) startTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timerID++
	id := g.timerID
	g.timer = time.AfterFunc(g.delay, func() { g.contentChangedTimerFired(id) })
}

func (g *Group) contentChangedTimerFired(id int) {
	g.mu.Lock()
	if id != g.timerID || g.timer == nil {
		// superseded or stopped
		g.mu.Unlock()
		return
	}
	if slices.ContainsFunc(g.liveMembersLocked(), (*Downloadable).Downloading) {
		// Try again later; the combined data is rebuilt once the whole
		// batch has arrived.
		g.startTimerLocked()
		g.mu.Unlock()
		return
	}
	g.timer = nil
	g.mu.Unlock()

	g.lg.Debug("local file content changed", slog.String("group", g.Name))
	g.LocalFileContentChangedDelayed.Notify()
}

// UpdateAll starts a download for every member that is updatable. It
// does not wait for the downloads to finish.
func (g *Group) UpdateAll() {
	for _, d := range g.Downloadables() {
		if d.Updatable() {
			d.StartFileDownload()
		}
	}
}

// StopAll stops all running downloads of the group.
func (g *Group) StopAll() {
	for _, d := range g.Downloadables() {
		d.StopFileDownload()
	}
}

// Close stops the delayed notification timer.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Group) LogValue() slog.Value {
	s := g.state()
	return slog.GroupValue(
		slog.String("name", g.Name),
		slog.Int("members", len(g.Downloadables())),
		slog.Bool("downloading", s.downloading),
		slog.Bool("updatable", s.updatable),
		slog.Int("files", len(s.files)))
}
