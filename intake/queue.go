package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ngas/ngas-cachecontrol/utils"
	"github.com/peterbourgon/diskv/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	queueNamePrefix string = "new_files"

	// width of the zero padded sequence used as record key
	sequenceWidth int = 20
)

// Record notifies that a new object copy was cached on this node
type Record struct {
	DiskID      string
	FileID      string
	FileVersion int
	Filename    string
}

// String returns human readable form of the record
func (record Record) String() string {
	return fmt.Sprintf("%s/%s/%d", record.DiskID, record.FileID, record.FileVersion)
}

// Queue is a durable FIFO of intake records
type Queue struct {
	path     string
	store    *diskv.Diskv
	sequence uint64
	mutex    sync.Mutex
}

// GetQueuePath returns the path of the queue for the given host under cacheDir
func GetQueuePath(cacheDir string, hostID string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%s_%s", queueNamePrefix, hostID))
}

// NewQueue opens or creates the queue for the given host under cacheDir.
// Records left by a previous run are kept.
func NewQueue(cacheDir string, hostID string) (*Queue, error) {
	logger := log.WithFields(log.Fields{
		"package":  "intake",
		"function": "NewQueue",
	})

	path := GetQueuePath(cacheDir, hostID)
	err := os.MkdirAll(path, 0o755)
	if err != nil {
		return nil, xerrors.Errorf("failed to make dir %s: %w", path, err)
	}

	queue := &Queue{
		path: path,
		store: diskv.New(diskv.Options{
			BasePath:     path,
			CacheSizeMax: 0,
		}),
	}

	keys := queue.sortedKeys()
	if len(keys) > 0 {
		last, err := strconv.ParseUint(keys[len(keys)-1], 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("malformed intake record key %q: %w", keys[len(keys)-1], err)
		}
		queue.sequence = last + 1
		logger.Infof("Intake queue %s has %d pending records", path, len(keys))
	}

	return queue, nil
}

// GetPath returns the path of the queue
func (queue *Queue) GetPath() string {
	return queue.path
}

func (queue *Queue) sortedKeys() []string {
	keys := []string{}
	for key := range queue.store.Keys(nil) {
		keys = append(keys, key)
	}
	// zero padded keys sort in insertion order
	sort.Strings(keys)
	return keys
}

// Add appends a record
func (queue *Queue) Add(record Record) error {
	b, err := utils.EncodeGob(record)
	if err != nil {
		return err
	}

	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	key := fmt.Sprintf("%0*d", sequenceWidth, queue.sequence)
	err = queue.store.Write(key, b)
	if err != nil {
		return xerrors.Errorf("failed to write intake record %s: %w", record.String(), err)
	}

	queue.sequence++
	return nil
}

// PopAll drains the queue, returning records in FIFO order.
// Each record is removed as it is taken.
func (queue *Queue) PopAll() ([]Record, error) {
	logger := log.WithFields(log.Fields{
		"package":  "intake",
		"struct":   "Queue",
		"function": "PopAll",
	})

	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	records := []Record{}
	for _, key := range queue.sortedKeys() {
		b, err := queue.store.Read(key)
		if err != nil {
			return records, xerrors.Errorf("failed to read intake record %s: %w", key, err)
		}

		err = queue.store.Erase(key)
		if err != nil {
			return records, xerrors.Errorf("failed to erase intake record %s: %w", key, err)
		}

		record := Record{}
		err = utils.DecodeGob(b, &record)
		if err != nil {
			logger.WithError(err).Errorf("Dropping malformed intake record %s", key)
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// Len returns the number of pending records
func (queue *Queue) Len() int {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()

	return len(queue.sortedKeys())
}
