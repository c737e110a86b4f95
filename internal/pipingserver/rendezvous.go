package pipingserver

import (
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
)

// Errors returned by Registry.attachSender / attachReceiver; the caller maps
// these onto the taxonomy in spec §7.
var (
	errSenderConflict   = errors.New("another sender is connecting to this path")
	errReceiverOverflow = errors.New("the number of receivers has reached the limit for this path")
	errNMismatch        = errors.New("the number of receivers (n) does not match the existing rendezvous on this path")
)

// rendezvousState is the per-path state machine of §4.5.
type rendezvousState int

const (
	stateGathering rendezvousState = iota
	stateStreaming
	stateClosing
)

// rendezvous is the per-path record described in §3. Everything but the
// immutable path and n is guarded by mu (including destroyed), never by the
// registry's lock.
type rendezvous struct {
	mu sync.Mutex

	path string
	n    int

	sender    *senderParticipant
	receivers []*receiverParticipant

	state rendezvousState

	// streamingCh is closed exactly once, when the rendezvous transitions
	// Gathering -> Streaming. Participants block on it (or their request's
	// context) while waiting for the rest of the set to arrive.
	streamingCh chan struct{}

	// destroyed is set once this record has been removed from the
	// Registry, so racing goroutines that already hold a pointer to it
	// know to retry against a fresh record instead of reusing a dead one.
	destroyed bool
}

type senderParticipant struct {
	header projectedHeaders
	body   io.ReadCloser
	pipes  []*io.PipeWriter // one per receiver, fanned out to via io.MultiWriter
	multi  io.Writer
}

type receiverParticipant struct {
	pipeReader *io.PipeReader
}

func newRendezvous(path string, n int) *rendezvous {
	return &rendezvous{
		path:        path,
		n:           n,
		state:       stateGathering,
		streamingCh: make(chan struct{}),
	}
}

// tryStartStreamingLocked moves Gathering -> Streaming once sender and all n
// receivers are present (I3), wiring an io.Pipe per receiver and a
// io.MultiWriter fan-out for the sender side. Must be called with mu held.
func (rv *rendezvous) tryStartStreamingLocked() {
	if rv.state != stateGathering {
		return
	}
	if rv.sender == nil || len(rv.receivers) != rv.n {
		return
	}
	writers := make([]io.Writer, 0, rv.n)
	for _, r := range rv.receivers {
		pr, pw := io.Pipe()
		r.pipeReader = pr
		rv.sender.pipes = append(rv.sender.pipes, pw)
		writers = append(writers, pw)
	}
	rv.sender.multi = io.MultiWriter(writers...)
	rv.state = stateStreaming
	close(rv.streamingCh)
}

// closePipes closes every receiver pipe, propagating err (nil for a clean
// EOF) to each blocked receiver-side Read.
func (rv *rendezvous) closePipes(err error) {
	for _, pw := range rv.sender.pipes {
		pw.CloseWithError(err)
	}
}

// Registry is the process-wide path -> rendezvous map of §4.4. Its lock
// guards only map membership; rendezvous state transitions are serialized
// by each record's own mutex (§5).
type Registry struct {
	mu sync.Mutex
	m  map[string]*rendezvous
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]*rendezvous{}}
}

// lookupOrCreate returns the current rendezvous for path, creating one if
// absent. It never holds the registry lock across a wait.
func (reg *Registry) lookupOrCreate(path string, n int) *rendezvous {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if rv, ok := reg.m[path]; ok {
		return rv
	}
	rv := newRendezvous(path, n)
	reg.m[path] = rv
	return rv
}

// remove deletes rv from the registry iff it is still the record on file
// for its path (it may already have been replaced/removed by a racing
// detach). Must be called without rv.mu held: it takes rv.mu itself to set
// destroyed, so that field is always read and written under the same lock
// as the rest of the rendezvous state.
func (reg *Registry) remove(rv *rendezvous) {
	reg.mu.Lock()
	if cur, ok := reg.m[rv.path]; ok && cur == rv {
		delete(reg.m, rv.path)
	}
	reg.mu.Unlock()

	rv.mu.Lock()
	rv.destroyed = true
	rv.mu.Unlock()
}

// acquire returns the current live rendezvous for path, retrying if a
// concurrent detach/teardown destroyed the record it first observed (I6).
func (reg *Registry) acquire(path string, n int) *rendezvous {
	for {
		rv := reg.lookupOrCreate(path, n)
		rv.mu.Lock()
		if !rv.destroyed {
			return rv
		}
		rv.mu.Unlock()
	}
}

// attachSender implements §4.4 attachSender. Returns the rendezvous locked
// on success (caller must Unlock) so it can immediately await streaming, or
// an error with the lock already released.
func (reg *Registry) attachSender(path string, n int, header projectedHeaders, body io.ReadCloser) (*rendezvous, error) {
	rv := reg.acquire(path, n)
	if rv.n != n {
		rv.mu.Unlock()
		return nil, errNMismatch
	}
	if rv.sender != nil {
		rv.mu.Unlock()
		return nil, errSenderConflict
	}
	rv.sender = &senderParticipant{header: header, body: body}
	rv.tryStartStreamingLocked()
	return rv, nil
}

// attachReceiver implements §4.4 attachReceiver, returning the rendezvous
// locked and this receiver's participant record on success. The caller
// keeps the *receiverParticipant pointer (not a slice index) because
// detachReceiver compacts the slice on a pre-stream abort, which would
// leave a cached index pointing at the wrong participant.
func (reg *Registry) attachReceiver(path string, n int) (*rendezvous, *receiverParticipant, error) {
	rv := reg.acquire(path, n)
	if rv.n != n {
		rv.mu.Unlock()
		return nil, nil, errNMismatch
	}
	if len(rv.receivers) >= rv.n {
		rv.mu.Unlock()
		return nil, nil, errReceiverOverflow
	}
	r := &receiverParticipant{}
	rv.receivers = append(rv.receivers, r)
	rv.tryStartStreamingLocked()
	return rv, r, nil
}

// detachSender removes a sender that aborted before streaming began (§4.6).
// If the rendezvous is now empty, it is destroyed so the path is reusable
// (P7). Reports whether it actually removed the sender; false means the
// rendezvous had already left Gathering (streaming already started, or the
// record was already torn down) by the time this call took effect, and the
// caller must not treat this as a clean pre-stream abort.
func (reg *Registry) detachSender(rv *rendezvous) bool {
	rv.mu.Lock()
	if rv.state != stateGathering || rv.destroyed {
		rv.mu.Unlock()
		return false
	}
	rv.sender = nil
	empty := len(rv.receivers) == 0
	rv.mu.Unlock()
	if empty {
		reg.remove(rv)
	}
	return true
}

// detachReceiver removes a receiver that aborted before streaming began,
// compacting the slice so a later arrival can take the freed slot. Reports
// whether it actually removed the receiver; false means streaming had
// already started (or the record was already torn down), and the caller
// must join the rendezvous as a normal participant instead of bailing out.
func (reg *Registry) detachReceiver(rv *rendezvous, r *receiverParticipant) bool {
	rv.mu.Lock()
	if rv.state != stateGathering || rv.destroyed {
		rv.mu.Unlock()
		return false
	}
	removed := false
	for i, cur := range rv.receivers {
		if cur == r {
			rv.receivers = append(rv.receivers[:i], rv.receivers[i+1:]...)
			removed = true
			break
		}
	}
	empty := rv.sender == nil && len(rv.receivers) == 0
	rv.mu.Unlock()
	if empty {
		reg.remove(rv)
	}
	return removed
}

// finish tears down a Streaming rendezvous (§4.5 Completion / §7
// PeerAbortDuringStream). Per I4 the registry entry is removed before the
// path is considered free again.
func (reg *Registry) finish(rv *rendezvous, streamErr error) {
	rv.mu.Lock()
	rv.state = stateClosing
	rv.mu.Unlock()
	reg.remove(rv)
	rv.closePipes(streamErr)
}

// runMulticast performs the actual body transfer once a rendezvous has
// reached Streaming: it copies the (possibly multipart-unwrapped) sender
// body into every receiver's pipe, paced by the slowest receiver, and tears
// the rendezvous down on completion or abort. Called from the sender's HTTP
// handler goroutine.
func runMulticast(reg *Registry, rv *rendezvous, logger *log.Logger) error {
	_, err := io.Copy(rv.sender.multi, rv.sender.body)
	reg.finish(rv, err)
	if err != nil {
		logger.Printf("rendezvous %s: multicast aborted: %v", rv.path, err)
	} else {
		logger.Printf("rendezvous %s: multicast finished", rv.path)
	}
	return err
}

// abortReceiverPipe is called from a receiver's HTTP handler goroutine when
// its write to the client response fails mid-stream. It propagates the
// failure back through the pipe so the sender-side io.Copy in runMulticast
// observes the same error and the whole rendezvous tears down (§7's full
// teardown default, documented as the Open Question decision in DESIGN.md).
func abortReceiverPipe(r *receiverParticipant, err error) {
	if err == nil {
		err = io.ErrClosedPipe
	}
	r.pipeReader.CloseWithError(err)
}

// flushWriter lets the multicast copy loop push bytes to the client as they
// arrive rather than waiting for an internal buffer to fill, matching the
// "live, byte-for-byte" requirement of §1.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		if f, ok := fw.w.(http.Flusher); ok {
			f.Flush()
		}
	}
	return n, err
}
