package torrent

import "github.com/jkaberg/torsync/torrent/engine"

// AddCallback runs when the engine reports the torrent of a user add. It
// returns the magnet to keep on the record and whether the add is fresh.
type AddCallback func(h engine.Handle, r *Record) (magnet string, fresh bool)

type pendingAdd struct {
	token engine.Token
	cb    AddCallback
}

// callbackQueue pairs Added events with the callbacks of user adds. Entries
// are kept in issue order, so an engine that answers in order consumes them
// FIFO; an out of order answer still finds its own entry by token.
type callbackQueue struct {
	last    engine.Token
	entries []pendingAdd
}

// Enqueue stores cb and returns the token to send with the add request.
func (q *callbackQueue) Enqueue(cb AddCallback) engine.Token {
	q.last++
	q.entries = append(q.entries, pendingAdd{token: q.last, cb: cb})
	return q.last
}

// Invoke runs and removes the callback for token. A zero or unknown token is
// an unsolicited load: no magnet and not fresh.
func (q *callbackQueue) Invoke(token engine.Token, h engine.Handle, r *Record) (string, bool) {
	cb, ok := q.take(token)
	if !ok || cb == nil {
		return "", false
	}
	return cb(h, r)
}

// Discard drops the callback for token without running it.
func (q *callbackQueue) Discard(token engine.Token) bool {
	_, ok := q.take(token)
	return ok
}

func (q *callbackQueue) take(token engine.Token) (AddCallback, bool) {
	if token == 0 {
		return nil, false
	}
	for i, e := range q.entries {
		if e.token == token {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e.cb, true
		}
	}
	return nil, false
}

func (q *callbackQueue) Len() int {
	return len(q.entries)
}
