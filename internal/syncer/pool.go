// internal/syncer/pool.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github-integration-service/internal/errors"
	"github-integration-service/internal/model"
)

// RepoJob describes one per-repository fetch bundle: everything needed to
// pull the repository's commits, pull requests, issues, and issue events.
type RepoJob struct {
	Token string
	Owner string
	Repo  string
}

// RepoData is the complete fetch result of one RepoJob. Issue events are
// keyed by issue number; the orchestrator resolves them against stored issue
// rows when persisting.
type RepoData struct {
	Commits      []model.Commit
	PullRequests []model.PullRequest
	Issues       []model.Issue
	IssueEvents  map[int][]model.IssueChangelog
}

// JobResult carries a finished job back to its submitter.
type JobResult struct {
	Data *RepoData
	Err  error
}

type queuedJob struct {
	id  string
	ctx context.Context
	job RepoJob
}

// Pool is a fixed-size set of workers, each running one RepoJob at a time.
// Submissions are correlated to completions through a pending table keyed by
// a generated job id; jobs beyond the pool size queue in arrival order.
type Pool struct {
	size      int
	newClient ClientFactory
	logger    *slog.Logger

	mu      sync.Mutex
	queue   []queuedJob
	pending map[string]chan JobResult

	work chan queuedJob
	kick chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPool starts size workers plus a dispatcher. size <= 0 picks a default
// bounded by available parallelism (between 2 and 4).
func NewPool(size int, factory ClientFactory, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = defaultPoolSize()
	}

	p := &Pool{
		size:      size,
		newClient: factory,
		logger:    logger,
		pending:   make(map[string]chan JobResult),
		work:      make(chan queuedJob),
		kick:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.dispatch()

	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit enqueues one job and returns the channel its single result will be
// delivered on.
func (p *Pool) Submit(ctx context.Context, job RepoJob) <-chan JobResult {
	ch := make(chan JobResult, 1)
	id := uuid.NewString()

	p.mu.Lock()
	p.pending[id] = ch
	p.queue = append(p.queue, queuedJob{id: id, ctx: ctx, job: job})
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
	return ch
}

// FetchRepoData submits a job and waits for its result.
func (p *Pool) FetchRepoData(ctx context.Context, job RepoJob) (*RepoData, error) {
	select {
	case res := <-p.Submit(ctx, job):
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the dispatcher and all workers. Queued jobs that have not been
// handed to a worker are abandoned.
func (p *Pool) Close() {
	close(p.quit)
	p.wg.Wait()
}

// dispatch hands queued jobs to idle workers in FIFO order. The work channel
// is unbuffered, so at most size jobs are in flight at any instant.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		var next *queuedJob
		if len(p.queue) > 0 {
			next = &p.queue[0]
		}
		p.mu.Unlock()

		if next == nil {
			select {
			case <-p.kick:
				continue
			case <-p.quit:
				return
			}
		}

		select {
		case p.work <- *next:
			p.mu.Lock()
			p.queue = p.queue[1:]
			p.mu.Unlock()
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case q := <-p.work:
			p.complete(q.id, p.runJob(q.ctx, q.job))
		case <-p.quit:
			return
		}
	}
}

// complete delivers a result to the submission registered under id. The
// result channel is buffered, so delivery never blocks the worker.
func (p *Pool) complete(id string, res JobResult) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if ok {
		ch <- res
	}
}

// runJob executes one job, converting panics and fetch errors into a
// structured failure so the submitter is never left waiting.
func (p *Pool) runJob(ctx context.Context, job RepoJob) (res JobResult) {
	defer func() {
		if r := recover(); r != nil {
			res = JobResult{Err: &apperrors.WorkerError{
				Message: fmt.Sprintf("worker panic: %v", r),
				Stack:   string(debug.Stack()),
			}}
		}
	}()

	data, err := p.fetchRepoData(ctx, job)
	if err != nil {
		return JobResult{Err: &apperrors.WorkerError{
			Message: err.Error(),
			Stack:   string(debug.Stack()),
		}}
	}
	return JobResult{Data: data}
}

// fetchRepoData pulls the complete bundle for one repository. Commits, pull
// requests, and issues are fetched in parallel; issue events follow
// sequentially, and a single issue's event failure degrades to an empty list
// rather than failing the job.
func (p *Pool) fetchRepoData(ctx context.Context, job RepoJob) (*RepoData, error) {
	gh := p.newClient(job.Token)
	data := &RepoData{IssueEvents: make(map[int][]model.IssueChangelog)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		commits, err := gh.ListRepositoryCommits(gctx, job.Owner, job.Repo)
		data.Commits = commits
		return err
	})
	g.Go(func() error {
		prs, err := gh.ListRepositoryPullRequests(gctx, job.Owner, job.Repo)
		data.PullRequests = prs
		return err
	})
	g.Go(func() error {
		issues, err := gh.ListRepositoryIssues(gctx, job.Owner, job.Repo)
		data.Issues = issues
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, issue := range data.Issues {
		events, err := gh.ListIssueEvents(ctx, job.Owner, job.Repo, issue.Number)
		if err != nil {
			p.logger.Error("Worker failed to fetch issue events",
				"owner", job.Owner, "repo", job.Repo, "issue", issue.Number, "error", err)
			data.IssueEvents[issue.Number] = nil
			continue
		}
		data.IssueEvents[issue.Number] = events
	}
	return data, nil
}

func defaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 2 {
		n = 2
	}
	return n
}
