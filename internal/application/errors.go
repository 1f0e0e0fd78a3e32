package application

import "errors"

var (
	// ErrInvalidPartitionCount is returned when a partition count below one is requested
	ErrInvalidPartitionCount = errors.New("partition count must be at least 1")

	// ErrInvalidTopic is returned when a topic name is empty
	ErrInvalidTopic = errors.New("invalid topic name")

	// ErrInvalidConsumerID is returned when a consumer id is empty
	ErrInvalidConsumerID = errors.New("invalid consumer id")

	// ErrInvalidStatus is returned for an unknown consumer status
	ErrInvalidStatus = errors.New("invalid consumer status")

	// ErrConsumerNotFound is returned when no heartbeat exists for a consumer
	ErrConsumerNotFound = errors.New("consumer not found")

	// ErrTenantExists is returned when creating a tenant id that is already taken
	ErrTenantExists = errors.New("tenant already exists")

	// ErrTenantNotFound is returned when a tenant is not found
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrInvalidTenantID is returned when a tenant id contains characters unusable as a topic prefix
	ErrInvalidTenantID = errors.New("invalid tenant id")

	// ErrEntryNotFound is returned when a dead-letter index does not exist
	ErrEntryNotFound = errors.New("dead letter entry not found")

	// ErrInvalidTransition is returned when a transactional call is made from the wrong state
	ErrInvalidTransition = errors.New("invalid transaction state transition")

	// ErrInvalidMetric is returned for malformed metric names, types or values
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrLabelMismatch is returned when a metric is used with a different set of label keys
	ErrLabelMismatch = errors.New("metric label keys do not match")
)
