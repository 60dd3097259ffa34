package views

import (
	"context"
	"log"
	"sync"
	"time"

	"qms/token-sync/internal/actions"
	"qms/token-sync/internal/hub"
	"qms/token-sync/internal/models"
	"qms/token-sync/internal/store"

	"golang.org/x/sync/errgroup"
)

// Channel is the part of realtime.Channel a view needs.
type Channel interface {
	Subscribe(listener hub.Listener) *hub.Subscription
	Connect(ctx context.Context) error
}

type DoctorAPI interface {
	ListDoctorTokens(ctx context.Context) ([]models.Token, error)
	actions.StatusUpdater
}

type StaffAPI interface {
	ListTodayTokens(ctx context.Context) ([]models.Token, error)
	ListPatients(ctx context.Context) ([]models.Patient, error)
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
}

type PublicAPI interface {
	ListPublicTodayTokens(ctx context.Context) ([]models.Token, error)
}

type Options struct {
	// OnChange receives each applied snapshot, tagged with the view name.
	OnChange      func(view string, tokens []models.Token)
	ReloadTimeout time.Duration
	ActionTimeout time.Duration
	// DoctorID narrows the doctor view to one doctor's tokens when the
	// server returns more than the caller's own.
	DoctorID string
}

// View binds one token store to the shared push channel for as long as it
// is mounted.
type View struct {
	name  string
	store *store.Store
	sub   *hub.Subscription
	once  sync.Once
}

func (v *View) Name() string {
	return v.name
}

func (v *View) Store() *store.Store {
	return v.store
}

// Unmount drops the view's subscription, stops further reloads and waits
// for those already in flight. It does not close the channel, which other views may share.
func (v *View) Unmount() {
	v.once.Do(func() {
		v.sub.Close()
		v.store.Close()
		log.Printf("view unmounted name=%s", v.name)
	})
}

// mount loads the first snapshot, subscribes, then connects. Load and
// connect failures are logged; the view recovers on the next event or
// remount.
func mount(ctx context.Context, name string, ch Channel, fetcher store.Fetcher, filter func(models.Token) bool, opts Options) *View {
	storeOpts := store.Options{Filter: filter, ReloadTimeout: opts.ReloadTimeout}
	if opts.OnChange != nil {
		storeOpts.OnChange = func(tokens []models.Token) { opts.OnChange(name, tokens) }
	}
	v := &View{name: name, store: store.New(name, fetcher, storeOpts)}

	if err := v.store.Load(ctx); err != nil {
		log.Printf("view initial load failed name=%s err=%v", name, err)
	}
	v.sub = ch.Subscribe(v.store.OnNotification)
	if err := ch.Connect(ctx); err != nil {
		log.Printf("view connect failed name=%s err=%v", name, err)
	}
	log.Printf("view mounted name=%s tokens=%d", name, len(v.store.Snapshot()))
	return v
}

type DoctorView struct {
	*View
	Actions *actions.Coordinator
}

func MountDoctor(ctx context.Context, ch Channel, api DoctorAPI, opts Options) *DoctorView {
	var filter func(models.Token) bool
	if opts.DoctorID != "" {
		filter = func(token models.Token) bool { return token.DoctorID == opts.DoctorID }
	}
	v := mount(ctx, "doctor", ch, store.FetchFunc(api.ListDoctorTokens), filter, opts)
	return &DoctorView{
		View:    v,
		Actions: actions.New(api, v.store, actions.Options{Timeout: opts.ActionTimeout}),
	}
}

func (v *DoctorView) Start(ctx context.Context, tokenID string) error {
	return v.Actions.Start(ctx, tokenID)
}

func (v *DoctorView) Complete(ctx context.Context, tokenID string) error {
	return v.Actions.Complete(ctx, tokenID)
}

// StaffView also keeps the patient and doctor lists used by the token
// creation form, refreshed together with the token list.
type StaffView struct {
	*View

	mu       sync.RWMutex
	patients []models.Patient
	doctors  []models.Doctor
	issued   uint64
	applied  uint64
}

func MountStaff(ctx context.Context, ch Channel, api StaffAPI, opts Options) *StaffView {
	sv := &StaffView{}
	sv.View = mount(ctx, "staff", ch, store.FetchFunc(func(ctx context.Context) ([]models.Token, error) {
		return sv.fetch(ctx, api)
	}), nil, opts)
	return sv
}

func (v *StaffView) fetch(ctx context.Context, api StaffAPI) ([]models.Token, error) {
	v.mu.Lock()
	v.issued++
	seq := v.issued
	v.mu.Unlock()

	var (
		tokens   []models.Token
		patients []models.Patient
		doctors  []models.Doctor
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tokens, err = api.ListTodayTokens(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		patients, err = api.ListPatients(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		doctors, err = api.ListDoctors(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	if seq > v.applied {
		v.applied = seq
		v.patients = patients
		v.doctors = doctors
	}
	v.mu.Unlock()
	return tokens, nil
}

func (v *StaffView) Patients() []models.Patient {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.Patient, len(v.patients))
	copy(out, v.patients)
	return out
}

func (v *StaffView) Doctors() []models.Doctor {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.Doctor, len(v.doctors))
	copy(out, v.doctors)
	return out
}

// MountPublic drops completed tokens even if the server returns them.
func MountPublic(ctx context.Context, ch Channel, api PublicAPI, opts Options) *View {
	return mount(ctx, "public", ch, store.FetchFunc(api.ListPublicTodayTokens), func(token models.Token) bool {
		return token.Status != models.StatusCompleted
	}, opts)
}
