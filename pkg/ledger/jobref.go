package ledger

import "strings"

// FormatJobDescription embeds "Task: <jobId>" in a description unless it already carries that marker.
func FormatJobDescription(description Description, jobID JobID) Description {
	if embedded, ok := ParseJobDescription(description.value); ok && embedded == jobID {
		return description
	}
	marker := jobDescriptionMarker + jobID.String()
	if description.value == "" {
		return Description{value: marker}
	}
	return Description{value: description.value + jobDescriptionSeparator + marker}
}

// ParseJobDescription extracts the job id embedded by FormatJobDescription.
// It serves rows written before the job id had its own column.
func ParseJobDescription(description string) (JobID, bool) {
	index := strings.LastIndex(description, jobDescriptionMarker)
	if index < 0 {
		return JobID{}, false
	}
	fields := strings.Fields(description[index+len(jobDescriptionMarker):])
	if len(fields) == 0 {
		return JobID{}, false
	}
	jobID, err := NewJobID(fields[0])
	if err != nil {
		return JobID{}, false
	}
	return jobID, true
}

func refundIdempotencyKey(jobID JobID) IdempotencyKey {
	return IdempotencyKey{value: refundIdempotencyPrefix + idempotencyKeyDelimiter + jobID.String()}
}

func grantIdempotencyKey(kind TransactionKind, key IdempotencyKey) IdempotencyKey {
	if strings.HasPrefix(key.value, kind.String()+idempotencyKeyDelimiter) {
		return key
	}
	return IdempotencyKey{value: kind.String() + idempotencyKeyDelimiter + key.value}
}
