// Package sdcard tracks SD card presence and builds a directory tree with
// bidirectional long/short filename translation, grounded on the original
// informers/filesystem/sd_card.py.
package sdcard

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/printlink-go/core/bus"
	"github.com/printlink-go/core/serial"
	"github.com/printlink-go/core/state"
)

// State mirrors SDState: the card starts UNSURE, gets resolved to
// PRESENT/ABSENT, and flips to INITIALISING on a physical insertion event
// before the tree is rebuilt.
type State int

const (
	Unsure State = iota
	Initialising
	Present
	Absent
)

// Entry is one node of the SD directory tree (a file or a directory).
type Entry struct {
	Name    string
	IsDir   bool
	ReadOnly bool
	Size    int64
	Children map[string]*Entry
}

func newDir(name string) *Entry {
	return &Entry{Name: name, IsDir: true, Children: map[string]*Entry{}}
}

// addByPath inserts a file at the given long-form path, creating
// intermediate directories as needed.
func (e *Entry) addByPath(longPath string, size int64) {
	parts := strings.Split(strings.Trim(path.Clean("/"+longPath), "/"), "/")
	cur := e
	for i, part := range parts {
		if part == "" {
			continue
		}
		last := i == len(parts)-1
		child, ok := cur.Children[part]
		if !ok {
			child = &Entry{Name: part}
			cur.Children[part] = child
		}
		if last {
			child.Size = size
		} else {
			child.IsDir = true
			if child.Children == nil {
				child.Children = map[string]*Entry{}
			}
		}
		cur = child
	}
}

// Patterns names the regex families sdcard listens for and uses to parse
// M20 -L capture lines (spec.md §6: "file listing begin/item/end (both
// 8.3 and long-name variants)").
type Patterns struct {
	SDPresent  *regexp.Regexp // named group "present": non-empty if card is present
	SDEjected  *regexp.Regexp
	BeginFiles *regexp.Regexp
	EndFiles   *regexp.Regexp
	// LFNCapture has named groups: dir_enter, dir_name, item, short_path,
	// long_name, size, dir_exit.
	LFNCapture *regexp.Regexp
}

// Card is the SD Card tracker.
type Card struct {
	queue   *serial.Queue
	manager *state.Manager
	pat     Patterns

	mu               sync.Mutex
	sdState          State
	expectInsertion  bool
	tree             *Entry
	lfnToSfn         map[string]string
	sfnToLfn         map[string]string

	TreeUpdated *bus.Signal[*Entry]
	Mounted     *bus.Signal[*Entry]
	Unmounted   *bus.Signal[struct{}]
	StateChanged *bus.Signal[State]
}

// New builds a Card and wires its line handlers against queue.
func New(queue *serial.Queue, manager *state.Manager, pat Patterns) *Card {
	c := &Card{
		queue:        queue,
		manager:      manager,
		pat:          pat,
		sdState:      Unsure,
		lfnToSfn:     map[string]string{},
		sfnToLfn:     map[string]string{},
		TreeUpdated:  bus.New[*Entry](),
		Mounted:      bus.New[*Entry](),
		Unmounted:    bus.New[struct{}](),
		StateChanged: bus.New[State](),
	}
	queue.AddLineHandler(pat.SDPresent, func(_ string, groups map[string]string) {
		c.sdInserted(groups)
	})
	queue.AddLineHandler(pat.SDEjected, func(string, map[string]string) {
		c.sdEjected()
	})
	return c
}

func (c *Card) sdInserted(groups map[string]string) {
	if groups["present"] == "" {
		return
	}
	c.mu.Lock()
	expecting := c.expectInsertion
	if expecting {
		c.expectInsertion = false
	}
	c.mu.Unlock()
	if !expecting {
		c.setState(Initialising)
	}
}

func (c *Card) sdEjected() {
	c.setState(Absent)
}

func (c *Card) setState(next State) {
	c.mu.Lock()
	prev := c.sdState
	c.sdState = next
	tree := c.tree
	c.mu.Unlock()

	if (prev == Initialising || prev == Unsure) && next == Present {
		c.Mounted.Send(tree)
	} else if prev == Present && (next == Absent || next == Initialising) {
		c.Unmounted.Send(struct{}{})
	}
	c.StateChanged.Send(next)
}

// State reports the current SD presence state.
func (c *Card) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sdState
}

// Tree returns the most recently built directory tree, or nil.
func (c *Card) Tree() *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree
}

// Translate resolves a long filename path to its 8.3 short form, if known.
func (c *Card) Translate(longPath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lfnToSfn[longPath]
	return s, ok
}

// TranslateShort resolves a short (8.3) path back to its long form.
func (c *Card) TranslateShort(shortPath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.sfnToLfn[shortPath]
	return l, ok
}

// Rescan issues "M20 -L" as a collecting instruction and rebuilds the
// tree plus the lfn/sfn translation tables from its capture.
func (c *Card) Rescan() error {
	if c.manager != nil {
		switch c.manager.GetState() {
		case state.Printing, state.Paused:
			return nil
		}
	}
	if c.State() == Absent {
		return nil
	}

	instr := serial.NewCollecting("M20 -L", c.pat.BeginFiles, c.pat.LFNCapture, c.pat.EndFiles)
	if err := c.queue.Enqueue(instr, false); err != nil {
		return err
	}
	if err := c.queue.Wait(instr); err != nil {
		return err
	}

	tree := newDir("SD Card")
	lfnToSfn := map[string]string{}
	sfnToLfn := map[string]string{}
	currentDir := "/"

	for _, m := range instr.Captured() {
		g := m.Groups
		switch {
		case g["dir_enter"] != "":
			currentDir = path.Join(currentDir, g["dir_name"])
		case g["item"] != "":
			shortPath := g["short_path"]
			longName := g["long_name"]
			longPath := path.Join(currentDir, longName)
			size, _ := strconv.ParseInt(g["size"], 10, 64)
			lfnToSfn[longPath] = shortPath
			sfnToLfn[shortPath] = longPath
			tree.addByPath(longPath, size)
		case g["dir_exit"] != "":
			currentDir = path.Dir(currentDir)
		}
	}

	c.mu.Lock()
	c.tree = tree
	c.lfnToSfn = lfnToSfn
	c.sfnToLfn = sfnToLfn
	priorState := c.sdState
	c.mu.Unlock()

	if priorState == Unsure {
		if len(tree.Children) > 0 {
			c.setState(Present)
		} else {
			return c.decidePresence()
		}
	}
	if priorState == Initialising {
		c.setState(Present)
	}

	c.TreeUpdated.Send(tree)
	return nil
}

// decidePresence issues "M21" to force the printer to report SD presence,
// used when a rescan comes back empty and the state is still unknown.
func (c *Card) decidePresence() error {
	c.mu.Lock()
	c.expectInsertion = true
	c.mu.Unlock()

	instr := serial.NewMatchable("M21", c.pat.SDPresent)
	if err := c.queue.Enqueue(instr, false); err != nil {
		return err
	}
	err := c.queue.Wait(instr)

	c.mu.Lock()
	c.expectInsertion = false
	c.mu.Unlock()

	if err != nil {
		return nil
	}
	m := instr.Match()
	if m != nil && m.Groups["present"] != "" {
		if c.State() != Present {
			c.setState(Present)
		}
	} else {
		c.setState(Absent)
	}
	return nil
}
