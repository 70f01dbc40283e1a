package bot

import "sync"

// Sequencer runs work strictly in submission order per chat while chats
// stay independent of each other. A slow gateway call in one group never
// stalls another group's lane.
type Sequencer struct {
	mu    sync.Mutex
	lanes map[int64]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue   []func()
	running bool
}

// NewSequencer builds an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{lanes: make(map[int64]*lane)}
}

// Do enqueues fn on the chat's lane. Jobs on the same lane execute one at a
// time in FIFO order; the lane worker exits once drained.
func (s *Sequencer) Do(chatID int64, fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	l, ok := s.lanes[chatID]
	if !ok {
		l = &lane{}
		s.lanes[chatID] = l
	}
	l.queue = append(l.queue, fn)
	if !l.running {
		l.running = true
		s.wg.Add(1)
		go s.run(chatID, l)
	}
	s.mu.Unlock()
}

// DoWait enqueues fn and blocks until it has run.
func (s *Sequencer) DoWait(chatID int64, fn func()) {
	done := make(chan struct{})
	s.Do(chatID, func() {
		defer close(done)
		fn()
	})
	<-done
}

// Wait blocks until all lanes are drained.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

func (s *Sequencer) run(chatID int64, l *lane) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(s.lanes, chatID)
			s.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		s.mu.Unlock()
		fn()
	}
}
