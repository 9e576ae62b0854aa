package pool

import (
	"github.com/pkg/errors"
)

// Serve adapts a plain task function into a SpawnFunc. Each worker runs fn in
// its own goroutine, one task at a time. A panic in fn is reported as a fault
// and ends the worker; an error from fn is an ordinary failed Result.
func Serve[Req, Resp any](fn func(Req) (Resp, error)) SpawnFunc[Req, Resp] {
	return func(conn Conn[Req, Resp]) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					select {
					case conn.Faults <- errors.Errorf("worker panic: %v", r):
					default:
					}
				}
			}()

			for {
				select {
				case <-conn.Done:
					return
				case task := <-conn.Tasks:
					value, err := fn(task.Payload)
					select {
					case conn.Results <- Result[Resp]{CorrelationID: task.CorrelationID, Value: value, Err: err}:
					case <-conn.Done:
						return
					}
				}
			}
		}()
	}
}
