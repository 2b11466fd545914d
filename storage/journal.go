package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/fulldump/qmapdb/logger"
	"github.com/fulldump/qmapdb/utils"
)

// Command is one line of the journal.
type Command struct {
	Name      string         `json:"name"`
	Uuid      string         `json:"uuid"`
	Timestamp int64          `json:"timestamp"`
	Db        string         `json:"db"`
	Payload   jsontext.Value `json:"payload,omitzero"`
}

const (
	CommandMeta   = "meta"
	CommandPut    = "put"
	CommandDel    = "del"
	CommandCommit = "commit"
)

type commitPayload struct {
	Ops int `json:"ops"`
}

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Journal is an append-only file of JSON commands. Every Commit appends
// its commands followed by a commit marker. Commands after the last
// marker belong to an interrupted commit and are ignored.
type Journal struct {
	Filename string

	mutex    sync.Mutex
	readOnly bool
	file     *os.File
	lock     *flock.Flock
	size     int64 // end of the last complete commit
	metas    map[string]*Meta
	closed   bool
}

func OpenJournal(filename string, readOnly bool) (*Journal, error) {

	j := &Journal{
		Filename: filename,
		readOnly: readOnly,
		lock:     flock.New(filename + ".lock"),
		metas:    map[string]*Meta{},
	}

	var locked bool
	var err error
	if readOnly {
		locked, err = j.lock.TryRLock()
	} else {
		locked, err = j.lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock '%s': %w", filename, err)
	}
	if !locked {
		return nil, fmt.Errorf("'%s': %w", filename, ErrLocked)
	}

	j.size, err = j.replay(-1, func(group []*Command) error {
		for _, command := range group {
			if command.Name != CommandMeta {
				continue
			}
			meta := &Meta{}
			err := json.Unmarshal(command.Payload, meta)
			if err != nil {
				return fmt.Errorf("meta of '%s': %w", command.Db, ErrCorrupt)
			}
			j.metas[command.Db] = meta
		}
		return nil
	})
	if err != nil {
		j.lock.Unlock()
		return nil, err
	}

	if readOnly {
		return j, nil
	}

	j.file, err = os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		j.lock.Unlock()
		return nil, fmt.Errorf("open file for write: %w", err)
	}

	info, err := j.file.Stat()
	if err != nil {
		j.close()
		return nil, err
	}
	if info.Size() > j.size {
		logger.Storage.Warn().
			Str("path", filename).
			Int64("bytes", info.Size()-j.size).
			Msg("discarding interrupted commit")
		err = j.file.Truncate(j.size)
		if err != nil {
			j.close()
			return nil, fmt.Errorf("truncate interrupted commit: %w", err)
		}
	}

	return j, nil
}

// replay reads complete commit groups in file order. A limit < 0 reads
// the whole file. It returns the offset where the last complete group
// ends.
func (j *Journal) replay(limit int64, f func(group []*Command) error) (int64, error) {

	file, err := os.Open(j.Filename)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var r io.Reader = file
	if limit >= 0 {
		r = io.LimitReader(file, limit)
	}
	reader := bufio.NewReaderSize(r, 1024*1024)

	offset := int64(0)
	valid := int64(0)
	group := []*Command{}
	ops := 0
	damaged := false

	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// a line without newline is an interrupted write
			break
		}
		if err != nil {
			return valid, err
		}
		offset += int64(len(line))

		command := &Command{}
		err = json.Unmarshal(line, command)
		if err != nil {
			damaged = true
			continue
		}

		switch command.Name {
		case CommandMeta:
		case CommandPut, CommandDel:
			ops++
		case CommandCommit:
			if damaged {
				return valid, fmt.Errorf("'%s' before offset %d: %w", j.Filename, offset, ErrCorrupt)
			}
			payload := commitPayload{}
			err = json.Unmarshal(command.Payload, &payload)
			if err != nil || payload.Ops != ops {
				return valid, fmt.Errorf("'%s' commit at offset %d: %w", j.Filename, offset, ErrCorrupt)
			}
			err = f(group)
			if err != nil {
				return valid, err
			}
			group = nil
			ops = 0
			valid = offset
			continue
		default:
			return valid, fmt.Errorf("'%s' unknown command '%s': %w", j.Filename, command.Name, ErrCorrupt)
		}

		group = append(group, command)
	}

	return valid, nil
}

func (j *Journal) Meta(db string) (*Meta, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	meta, ok := j.metas[db]
	if !ok {
		return nil, nil
	}
	copied := *meta
	return &copied, nil
}

func (j *Journal) Databases() ([]string, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return nil, ErrClosed
	}
	return utils.GetKeys(j.metas), nil
}

func (j *Journal) Load(db string, f func(e Entry) error) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return ErrClosed
	}

	entries, err := j.state(db)
	if err != nil {
		return err
	}
	for _, e := range entries[db] {
		err := f(e)
		if err != nil {
			return err
		}
	}
	return nil
}

// state replays the journal into the live records of db, or of every
// database when db is empty.
func (j *Journal) state(db string) (map[string]map[string]Entry, error) {

	result := map[string]map[string]Entry{}

	_, err := j.replay(j.size, func(group []*Command) error {
		for _, command := range group {
			if db != "" && command.Db != db {
				continue
			}
			if command.Name == CommandMeta {
				continue
			}
			entry := Entry{}
			err := json.Unmarshal(command.Payload, &entry)
			if err != nil {
				return fmt.Errorf("%s of '%s': %w", command.Name, command.Db, ErrCorrupt)
			}
			entries, ok := result[command.Db]
			if !ok {
				entries = map[string]Entry{}
				result[command.Db] = entries
			}
			if command.Name == CommandDel {
				delete(entries, string(entry.Key))
			} else {
				entries[string(entry.Key)] = entry
			}
		}
		return nil
	})

	return result, err
}

func (j *Journal) Commit(db string, meta *Meta, ops []Op) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return ErrClosed
	}
	if j.readOnly {
		return ErrReadOnly
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	writeMeta := meta != nil && !meta.Equal(j.metas[db])
	if writeMeta {
		err := writeCommand(buf, CommandMeta, db, meta)
		if err != nil {
			return err
		}
	}
	for _, op := range ops {
		var err error
		if op.Delete {
			err = writeCommand(buf, CommandDel, db, Entry{Key: op.Key, Seq: op.Seq})
		} else {
			err = writeCommand(buf, CommandPut, db, op.Entry)
		}
		if err != nil {
			return err
		}
	}
	err := writeCommand(buf, CommandCommit, db, commitPayload{Ops: len(ops)})
	if err != nil {
		return err
	}

	n, err := j.file.Write(buf.Bytes())
	if err == nil {
		err = j.file.Sync()
	}
	if err != nil {
		// leave no partial group behind
		j.file.Truncate(j.size)
		return fmt.Errorf("commit '%s': %w", db, err)
	}
	j.size += int64(n)

	if writeMeta {
		copied := *meta
		j.metas[db] = &copied
	}

	return nil
}

func writeCommand(w io.Writer, name, db string, payload any) error {

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}

	command := &Command{
		Name:      name,
		Uuid:      uuid.New().String(),
		Timestamp: time.Now().UnixNano(),
		Db:        db,
		Payload:   raw,
	}

	line, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	line = append(line, '\n')

	_, err = w.Write(line)
	return err
}

// Compact rewrites the journal keeping only the live records of every
// database.
func (j *Journal) Compact() error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return ErrClosed
	}
	if j.readOnly {
		return ErrReadOnly
	}

	t0 := time.Now()

	state, err := j.state("")
	if err != nil {
		return err
	}

	tmpName := j.Filename + ".compact"
	tmp, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("create compact file: %w", err)
	}
	defer os.Remove(tmpName)

	w := bufio.NewWriterSize(tmp, 1024*1024)
	for db, meta := range j.metas {
		err = writeCommand(w, CommandMeta, db, meta)
		if err != nil {
			tmp.Close()
			return err
		}
		for _, entry := range state[db] {
			err = writeCommand(w, CommandPut, db, entry)
			if err != nil {
				tmp.Close()
				return err
			}
		}
		err = writeCommand(w, CommandCommit, db, commitPayload{Ops: len(state[db])})
		if err != nil {
			tmp.Close()
			return err
		}
	}
	err = errors.Join(w.Flush(), tmp.Sync())
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write compact file: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	j.file.Close()
	err = os.Rename(tmpName, j.Filename)
	if err != nil {
		return fmt.Errorf("replace journal: %w", err)
	}
	j.file, err = os.OpenFile(j.Filename, os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		j.closed = true
		return fmt.Errorf("reopen journal: %w", err)
	}
	before := j.size
	j.size = info.Size()

	logger.Storage.Info().
		Str("path", j.Filename).
		Int64("before", before).
		Int64("after", j.size).
		Dur("took", time.Since(t0)).
		Msg("compacted")

	return nil
}

func (j *Journal) Close() error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.close()
}

func (j *Journal) close() error {
	var err error
	if j.file != nil {
		err = j.file.Close()
	}
	return errors.Join(err, j.lock.Unlock())
}
