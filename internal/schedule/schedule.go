// Package schedule submits recurring video jobs to the job queue from
// declarative cron descriptors.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/bobarin/scenecast/internal/queue"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// Submitter is the part of the job queue the scheduler needs.
type Submitter interface {
	Submit(spec queue.JobSpec, task queue.Task) (*queue.Handle[*models.JobResult], error)
}

// TaskFactory turns a request into the task that produces its video.
type TaskFactory func(req models.JobRequest) queue.Task

// JobTemplate is the request a descriptor submits on every trigger.
type JobTemplate struct {
	Type            models.JobType     `yaml:"type"`
	Title           string             `yaml:"title"`
	Topic           string             `yaml:"topic"`
	Voice           string             `yaml:"voice"`
	Orientation     models.Orientation `yaml:"orientation"`
	Language        string             `yaml:"language"`
	BackgroundMusic string             `yaml:"background_music"`
}

// Descriptor is one recurring trigger.
type Descriptor struct {
	Name     string      `yaml:"name"`
	Cron     string      `yaml:"cron"` // seconds field optional, descriptors like @daily accepted
	Disabled bool        `yaml:"disabled"`
	Job      JobTemplate `yaml:"job"`
}

type file struct {
	Schedules []Descriptor `yaml:"schedules"`
}

// Entry is the public view of a registered descriptor.
type Entry struct {
	Name      string         `json:"name"`
	Cron      string         `json:"cron"`
	Type      models.JobType `json:"type"`
	Title     string         `json:"title"`
	Next      *time.Time     `json:"next_run,omitempty"`
	Prev      *time.Time     `json:"last_run,omitempty"`
	LastJobID string         `json:"last_job_id,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Runs      int            `json:"runs"`
	Skipped   int            `json:"skipped"`
	Running   bool           `json:"running"`
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type scheduled struct {
	desc    Descriptor
	entryID cron.EntryID

	lastJobID string
	lastError string
	runs      int
	skipped   int
	inFlight  bool
}

// Scheduler owns a cron runner. Overlapping triggers of the same descriptor
// collapse into the run already in flight.
type Scheduler struct {
	cron   *cron.Cron
	queue  Submitter
	task   TaskFactory
	group  singleflight.Group
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*scheduled
}

func New(q Submitter, task TaskFactory) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		queue:   q,
		task:    task,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*scheduled),
	}
}

// LoadFile reads descriptors from a YAML file of the form
//
//	schedules:
//	  - name: morning-short
//	    cron: "0 30 8 * * *"
//	    job: {type: short, topic: "today in history"}
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schedules file: %w", err)
	}

	seen := make(map[string]bool, len(f.Schedules))
	for i, d := range f.Schedules {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i+1, err)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("schedule %q defined twice", d.Name)
		}
		seen[d.Name] = true
	}
	return f.Schedules, nil
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("name is required")
	}
	// name-<timestamp> becomes the job id
	if !models.ValidJobID(d.Name + "-20060102T150405") {
		return fmt.Errorf("name %q may only contain letters, digits, '-' and '_'", d.Name)
	}
	if _, err := parser.Parse(d.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", d.Cron, err)
	}
	if d.Job.Type != "" && !d.Job.Type.Valid() {
		return fmt.Errorf("invalid job type %q", d.Job.Type)
	}
	if strings.TrimSpace(d.Job.Topic) == "" {
		return errors.New("job topic is required")
	}
	return nil
}

// Add registers a descriptor. Disabled descriptors are listed but never fire.
func (s *Scheduler) Add(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Job.Type == "" {
		d.Job.Type = models.JobTypeShort
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[d.Name]; ok {
		return fmt.Errorf("schedule %q already registered", d.Name)
	}

	sc := &scheduled{desc: d}
	if !d.Disabled {
		id, err := s.cron.AddFunc(d.Cron, func() { s.fire(sc) })
		if err != nil {
			return fmt.Errorf("failed to register schedule %q: %w", d.Name, err)
		}
		sc.entryID = id
	}
	s.entries[d.Name] = sc

	log.Printf("[Scheduler] Registered %q (%s, %s job, disabled=%v)", d.Name, d.Cron, d.Job.Type, d.Disabled)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[Scheduler] Started with %d schedule(s)", len(s.List()))
}

// Stop halts triggering and returns a context done once running callbacks return.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

// Trigger fires a descriptor immediately, outside its cron schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	sc, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	go s.fire(sc)
	return nil
}

// fire submits one job and holds the descriptor's flight until that job is
// terminal, so triggers arriving meanwhile are counted as skipped.
func (s *Scheduler) fire(sc *scheduled) {
	s.mu.Lock()
	busy := sc.inFlight
	if busy {
		sc.skipped++
	}
	s.mu.Unlock()
	if busy {
		log.Printf("[Scheduler] %q still running, skipping trigger", sc.desc.Name)
		return
	}

	ran := false
	_, _, _ = s.group.Do(sc.desc.Name, func() (interface{}, error) {
		ran = true
		s.setInFlight(sc, true)
		defer s.setInFlight(sc, false)

		h, err := s.submit(sc)
		if err != nil {
			return nil, err
		}
		_, err = h.Wait(s.ctx)
		return nil, err
	})
	if !ran {
		s.mu.Lock()
		sc.skipped++
		s.mu.Unlock()
	}
}

func (s *Scheduler) setInFlight(sc *scheduled, v bool) {
	s.mu.Lock()
	sc.inFlight = v
	s.mu.Unlock()
}

func (s *Scheduler) submit(sc *scheduled) (*queue.Handle[*models.JobResult], error) {
	d := sc.desc
	at := s.now().UTC()
	req := models.JobRequest{
		ID:              fmt.Sprintf("%s-%s", d.Name, at.Format("20060102T150405")),
		Type:            d.Job.Type,
		Title:           d.Job.Title,
		Topic:           d.Job.Topic,
		Voice:           d.Job.Voice,
		Orientation:     d.Job.Orientation,
		Language:        d.Job.Language,
		BackgroundMusic: d.Job.BackgroundMusic,
		Metadata:        models.JSONB{"schedule": d.Name},
	}
	if req.Title == "" {
		req.Title = d.Job.Topic
	}

	h, err := s.queue.Submit(queue.JobSpec{
		ID:       req.ID,
		Type:     req.Type,
		Title:    req.Title,
		Metadata: req.Metadata,
	}, s.task(req))

	s.mu.Lock()
	sc.runs++
	if err != nil {
		sc.lastError = err.Error()
	} else {
		sc.lastJobID = req.ID
		sc.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		log.Printf("[Scheduler] Warning: %q could not submit job: %v", d.Name, err)
		return nil, err
	}
	log.Printf("[Scheduler] %q submitted job %s", d.Name, req.ID)
	return h, nil
}

// List returns every registered descriptor sorted by name.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, sc := range s.entries {
		e := Entry{
			Name:      sc.desc.Name,
			Cron:      sc.desc.Cron,
			Type:      sc.desc.Job.Type,
			Title:     sc.desc.Job.Title,
			LastJobID: sc.lastJobID,
			LastError: sc.lastError,
			Runs:      sc.runs,
			Skipped:   sc.skipped,
			Running:   sc.inFlight,
		}
		if sc.entryID != 0 {
			ce := s.cron.Entry(sc.entryID)
			if !ce.Next.IsZero() {
				next := ce.Next
				e.Next = &next
			}
			if !ce.Prev.IsZero() {
				prev := ce.Prev
				e.Prev = &prev
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
