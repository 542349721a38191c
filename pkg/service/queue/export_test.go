package queue

import "context"

func (r *Redis) Poll(ctx context.Context) (int, error) {
	return r.poll(ctx)
}

// WaitHandlers waits for handlers started by Poll. Only valid when the poll
// loop is not running.
func (r *Redis) WaitHandlers() {
	r.wg.Wait()
}
