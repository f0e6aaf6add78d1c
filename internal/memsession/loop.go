package memsession

// EventLoop is a FIFO of tasks standing in for a session's network event
// goroutine. It is not safe for concurrent use: tasks are posted and run on
// the goroutine that owns the session.
type EventLoop struct {
	queue   []func()
	running bool
}

// Post queues fn to run after everything already queued.
func (l *EventLoop) Post(fn func()) {
	l.queue = append(l.queue, fn)
}

// Pending returns the number of queued tasks.
func (l *EventLoop) Pending() int {
	return len(l.queue)
}

// RunOne runs the oldest task. It reports false when the queue was empty.
func (l *EventLoop) RunOne() bool {
	if len(l.queue) == 0 {
		return false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	fn()
	return true
}

// RunUntilIdle runs tasks, including those posted while running, until the
// queue is empty. It returns how many tasks ran.
func (l *EventLoop) RunUntilIdle() int {
	if l.running {
		panic("memsession: RunUntilIdle called from a task")
	}
	l.running = true
	defer func() { l.running = false }()

	n := 0
	for l.RunOne() {
		n++
	}
	return n
}
