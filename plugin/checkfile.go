package plugin

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// CheckfilePolicyName is the registered name of CheckfilePolicy
	CheckfilePolicyName string = "checkfile"

	// CheckfileLastCheckAttribute is the PluginState attribute holding the last check time (RFC3339)
	CheckfileLastCheckAttribute string = "last_check"

	checkfileNodesParam          string = "nodes"
	checkfileCheckingPeriodParam string = "checking_period"
	checkfileTimeoutParam        string = "timeout"

	checkfileCommand        string = "CHECKFILE"
	checkfileFileOKStatus   string = "NGAMS_INFO_FILE_OK"
	checkfileDefaultTimeout        = 30 * time.Second

	nodeSetSeparator    string = "|"
	serverListSeparator string = ","
	nodeSeparator       string = ";"
)

type checkResult int

const (
	checkResultFailure checkResult = iota
	checkResultFileOK
	checkResultFileNotOK
)

// CheckfilePolicy evicts objects of which a valid copy is reported in every configured node set.
// A node set holds alternative server lists, a set is satisfied when one node of any of its lists reports the file OK.
type CheckfilePolicy struct {
	nodeSets       [][][]string
	checkingPeriod time.Duration
	client         *http.Client
	now            func() time.Time
}

// NewCheckfilePolicy creates CheckfilePolicy.
// nodes is given as "h1:p1;h2:p2,h3:p3|h4:p4", sets separated by '|',
// server lists within a set by ',' and nodes within a list by ';'.
// checking_period and timeout are given in seconds.
func NewCheckfilePolicy(params map[string]string) (RetentionPolicy, error) {
	nodesValue, ok := params[checkfileNodesParam]
	if !ok {
		return nil, xerrors.Errorf("missing parameter %s", checkfileNodesParam)
	}

	nodeSets, err := parseNodeSets(nodesValue)
	if err != nil {
		return nil, err
	}

	checkingPeriod, err := parseSecondsParam(params, checkfileCheckingPeriodParam, 0)
	if err != nil {
		return nil, err
	}

	timeout, err := parseSecondsParam(params, checkfileTimeoutParam, checkfileDefaultTimeout)
	if err != nil {
		return nil, err
	}

	return &CheckfilePolicy{
		nodeSets:       nodeSets,
		checkingPeriod: checkingPeriod,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}, nil
}

func parseNodeSets(value string) ([][][]string, error) {
	nodeSets := [][][]string{}
	for _, setValue := range strings.Split(value, nodeSetSeparator) {
		serverLists := [][]string{}
		for _, listValue := range strings.Split(setValue, serverListSeparator) {
			nodes := []string{}
			for _, node := range strings.Split(listValue, nodeSeparator) {
				node = strings.TrimSpace(node)
				if len(node) == 0 {
					continue
				}

				if !strings.Contains(node, ":") {
					return nil, xerrors.Errorf("malformed node %q, expected host:port", node)
				}
				nodes = append(nodes, node)
			}

			if len(nodes) > 0 {
				serverLists = append(serverLists, nodes)
			}
		}

		if len(serverLists) == 0 {
			return nil, xerrors.Errorf("empty node set in %q", value)
		}
		nodeSets = append(nodeSets, serverLists)
	}
	return nodeSets, nil
}

func parseSecondsParam(params map[string]string, name string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := params[name]
	if !ok || len(value) == 0 {
		return defaultValue, nil
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, xerrors.Errorf("failed to parse %s %q: %w", name, value, err)
	}

	if seconds < 0 {
		return 0, xerrors.Errorf("negative %s %q", name, value)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Name returns the policy name
func (policy *CheckfilePolicy) Name() string {
	return CheckfilePolicyName
}

// Evaluate checks the remote copies of the object
func (policy *CheckfilePolicy) Evaluate(ctx context.Context, entry *cache.Entry) (bool, error) {
	logger := log.WithFields(log.Fields{
		"package":      "plugin",
		"struct":       "CheckfilePolicy",
		"function":     "Evaluate",
		"disk_id":      entry.DiskID,
		"file_id":      entry.FileID,
		"file_version": entry.FileVersion,
	})

	if entry.State == nil || entry.State.Plugin != CheckfilePolicyName {
		entry.State = cache.NewPluginState(CheckfilePolicyName)
	}

	now := policy.now()

	if policy.checkingPeriod > 0 {
		lastCheckValue, ok := entry.State.Get(CheckfileLastCheckAttribute)
		if !ok {
			// first visit, the check is due after one checking period
			policy.setLastCheck(entry, now)
			return false, nil
		}

		lastCheck, err := utils.ParseTime(lastCheckValue)
		if err != nil {
			logger.WithError(err).Warnf("Malformed %s attribute %q, checking now", CheckfileLastCheckAttribute, lastCheckValue)
		} else if now.Sub(lastCheck) < policy.checkingPeriod {
			return false, nil
		}
	}

	okSets := 0
	for _, serverLists := range policy.nodeSets {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if !policy.availableInSet(ctx, serverLists, entry) {
			break
		}
		okSets++
	}

	policy.setLastCheck(entry, now)

	evict := okSets == len(policy.nodeSets)
	logger.Debugf("Valid copies found in %d of %d node sets", okSets, len(policy.nodeSets))
	return evict, nil
}

func (policy *CheckfilePolicy) setLastCheck(entry *cache.Entry, now time.Time) {
	entry.State.Set(CheckfileLastCheckAttribute, utils.MakeTimeToString(now))
	entry.State.UpdatedAt = now
}

// availableInSet returns true if a node of any server list of the set reports the file OK.
// NOK from a node moves on to the next server list, a failed node to the next node of the same list.
func (policy *CheckfilePolicy) availableInSet(ctx context.Context, serverLists [][]string, entry *cache.Entry) bool {
	lists := make([][]string, len(serverLists))
	copy(lists, serverLists)
	rand.Shuffle(len(lists), func(i, j int) {
		lists[i], lists[j] = lists[j], lists[i]
	})

	for _, nodes := range lists {
		if ctx.Err() != nil {
			return false
		}

		if policy.availableInServerList(ctx, nodes, entry) {
			return true
		}
	}
	return false
}

func (policy *CheckfilePolicy) availableInServerList(ctx context.Context, nodes []string, entry *cache.Entry) bool {
	shuffled := make([]string, len(nodes))
	copy(shuffled, nodes)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, node := range shuffled {
		switch policy.sendCheckfile(ctx, node, entry) {
		case checkResultFileOK:
			return true
		case checkResultFileNotOK:
			return false
		default:
			// try next node
		}
	}
	return false
}

func (policy *CheckfilePolicy) sendCheckfile(ctx context.Context, node string, entry *cache.Entry) checkResult {
	logger := log.WithFields(log.Fields{
		"package":  "plugin",
		"struct":   "CheckfilePolicy",
		"function": "sendCheckfile",
		"node":     node,
	})

	query := url.Values{}
	query.Set("file_id", entry.FileID)
	query.Set("file_version", strconv.Itoa(entry.FileVersion))
	requestURL := fmt.Sprintf("http://%s/%s?%s", node, checkfileCommand, query.Encode())

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		logger.WithError(err).Warnf("Failed to make %s request", checkfileCommand)
		return checkResultFailure
	}

	response, err := policy.client.Do(request)
	if err != nil {
		logger.WithError(err).Infof("Failed to contact node")
		return checkResultFailure
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		logger.WithError(err).Infof("Failed to read %s response", checkfileCommand)
		return checkResultFailure
	}

	if len(body) == 0 {
		return checkResultFailure
	}

	if strings.Contains(string(body), checkfileFileOKStatus) {
		return checkResultFileOK
	}
	return checkResultFileNotOK
}
