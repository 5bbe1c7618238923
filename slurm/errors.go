// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slurm

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ValidationError is returned when a job request carries malformed resource
// constraints. It is raised before any remote call is made.
type ValidationError struct {
	err error
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("invalid job request: %v", ve.err)
}

// NewValidationError returns a ValidationError with the given message
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{err: errors.Errorf(format, args...)}
}

// IsValidationError checks if the given error is a ValidationError
func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// AllocationTimeoutError is returned when a queued allocation does not reach
// the RUNNING state within the configured timeout.
type AllocationTimeoutError struct {
	JobName string
	Timeout time.Duration
}

func (ate *AllocationTimeoutError) Error() string {
	return fmt.Sprintf("job %q is still not running after %s", ate.JobName, ate.Timeout)
}

// IsAllocationTimeoutError checks if the given error is an AllocationTimeoutError
func IsAllocationTimeoutError(err error) bool {
	_, ok := errors.Cause(err).(*AllocationTimeoutError)
	return ok
}

type noJobFound struct {
	msg string
}

func (jid *noJobFound) Error() string {
	return jid.msg
}

func isNoJobFoundError(err error) bool {
	_, ok := errors.Cause(err).(*noJobFound)
	return ok
}
