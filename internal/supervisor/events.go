package supervisor

// Event is one structured signal emitted by a running worker process. The
// launcher translates the worker's text streams into events so the supervisor
// never touches raw pipes.
type Event interface {
	event()
}

// ProgressEvent carries a percentage parsed from one worker stdout line.
type ProgressEvent struct {
	Percent int
}

// StderrEvent carries one diagnostic line from worker stderr.
type StderrEvent struct {
	Line string
}

// ExitEvent is the final event on a worker's stream. Code is the process exit
// code; Err is set when the wait itself failed rather than the worker.
type ExitEvent struct {
	Code int
	Err  error
}

func (ProgressEvent) event() {}
func (StderrEvent) event()   {}
func (ExitEvent) event()     {}
