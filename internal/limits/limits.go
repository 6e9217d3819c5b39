// Package limits sizes the probe window against the open file descriptor
// limit of the process.
package limits

import "fmt"

const (
	// AverageBatchSize is the window used when the descriptor limit is
	// large but still below the requested batch size.
	AverageBatchSize = 3000
	// DefaultFileDescriptorsLimit is the limit assumed where it cannot be
	// queried, and the threshold above which AverageBatchSize is safe.
	DefaultFileDescriptorsLimit = 8000

	// MaxBatchSize is the largest batch size the configuration accepts.
	MaxBatchSize = 65535

	// descriptorHeadroom is left for descriptors not used by probes.
	descriptorHeadroom = 100
)

// InferBatchSize fits batch to the descriptor limit ulimit. It returns the
// batch size to use and messages for the user. ulimitRequested reports
// whether the user asked for a specific limit, which silences the hint
// about raising the batch size.
func InferBatchSize(batch, ulimit uint64, ulimitRequested bool) (uint64, []string) {
	var notes []string

	switch {
	case ulimit < batch:
		notes = append(notes, "File limit is lower than the batch size, consider raising it with --ulimit. "+
			"This may cause harm to sensitive servers.")

		switch {
		case ulimit < AverageBatchSize:
			notes = append(notes, "Your file limit is very small, which slows the scan down. "+
				"Raise it with '--ulimit 5000'. Halving the batch size.")
			batch = ulimit / 2
		case ulimit > DefaultFileDescriptorsLimit:
			batch = AverageBatchSize
		default:
			batch = ulimit - descriptorHeadroom
		}
	case ulimit > batch/2 && !ulimitRequested:
		notes = append(notes, fmt.Sprintf(
			"File limit higher than batch size. Can increase speed by increasing batch size '-b %d'.",
			min(ulimit-descriptorHeadroom, MaxBatchSize)))
	}

	return batch, notes
}
