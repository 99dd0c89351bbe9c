package domain

import "errors"

// ErrNoNewPartition signals that storage holds no partition after the checkpoint
var ErrNoNewPartition = errors.New("no new partition")
