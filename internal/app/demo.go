package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/weft-lang/weft/internal/future"
	"github.com/weft-lang/weft/internal/poller"
	"github.com/weft-lang/weft/internal/sched"
	"github.com/weft-lang/weft/internal/task"
)

// runDemo exercises the runtime with self-contained workloads: CPU-bound
// tasks that hit preemption checkpoints, future combinators, and readiness
// driven pipe I/O.
func runDemo(ctx context.Context, s *sched.Scheduler, cfg Config) error {
	demos := map[string]func(*sched.Scheduler, int) error{
		"compute": demoCompute,
		"futures": demoFutures,
		"io":      demoIO,
	}

	names := []string{cfg.Demo}
	if cfg.Demo == "" || cfg.Demo == "all" {
		names = []string{"compute", "futures", "io"}
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := demos[name](s, cfg.DemoTasks); err != nil {
			return fmt.Errorf("%s demo: %w", name, err)
		}
	}
	return nil
}

// demoCompute spawns CPU-bound tasks that checkpoint periodically, so the
// monitor has something to preempt.
func demoCompute(s *sched.Scheduler, n int) error {
	tasks := make([]*task.Task, 0, n)
	for i := 0; i < n; i++ {
		t, err := s.Spawn(sched.Spec{
			Description: fmt.Sprintf("compute-%d", i),
			Arg:         1000 * (1 + i%8),
			Entry: func(ex *task.Execution, arg any) error {
				rounds := arg.(int)
				acc := 0
				for j := 0; j < rounds*1000; j++ {
					acc += j % 7
					if j%4096 == 0 {
						if err := ex.Checkpoint(); err != nil {
							return err
						}
					}
				}
				if acc < 0 {
					return errors.New("accumulator overflow")
				}
				return nil
			},
		})
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}
	for _, t := range tasks {
		if err := t.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// demoFutures resolves n futures from producer tasks and joins them in a
// collector task.
func demoFutures(s *sched.Scheduler, n int) error {
	futures := make([]*future.Future[int], n)
	for i := range futures {
		futures[i] = future.New[int]()
	}

	for i := range futures {
		i := i
		_, err := s.Spawn(sched.Spec{
			Description: fmt.Sprintf("producer-%d", i),
			Entry: func(ex *task.Execution, _ any) error {
				if err := ex.Yield(); err != nil {
					return err
				}
				futures[i].Resolve(i + 1)
				return nil
			},
		})
		if err != nil {
			return err
		}
	}

	collector, err := s.Spawn(sched.Spec{
		Description: "collector",
		Entry: func(ex *task.Execution, _ any) error {
			values, err := future.Await(ex, future.JoinAll(futures))
			if err != nil {
				return err
			}
			var total int
			for _, v := range values {
				total += v
			}
			if want := n * (n + 1) / 2; total != want {
				return fmt.Errorf("joined total: got %d, want %d", total, want)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	return collector.Wait()
}

// demoIO streams n bytes through a pipe, the reader parking on poller
// readiness between reads.
func demoIO(s *sched.Scheduler, n int) error {
	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	defer r.Close()
	defer w.Close()

	reader, err := s.Spawn(sched.Spec{
		Description: "pipe-reader",
		Entry: func(ex *task.Execution, _ any) error {
			buf := make([]byte, 64)
			for read := 0; read < n; {
				if err := s.AwaitIO(ex, int(r.Fd()), poller.Interest{Readable: true}); err != nil {
					return err
				}
				m, err := r.Read(buf)
				if err != nil {
					return err
				}
				read += m
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	writer, err := s.Spawn(sched.Spec{
		Description: "pipe-writer",
		Entry: func(ex *task.Execution, _ any) error {
			for written := 0; written < n; written++ {
				if _, err := w.Write([]byte{byte(written)}); err != nil {
					return err
				}
				if err := ex.Yield(); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	if err := writer.Wait(); err != nil {
		return err
	}
	return reader.Wait()
}
