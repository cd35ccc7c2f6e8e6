/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestLockerLockSuccess(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "report:acme:2025-06:SAFT_INVOICING", "rpt_1")

	mock.ExpectSetNX("report:acme:2025-06:SAFT_INVOICING", "rpt_1", 5*time.Minute).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Minute)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerLockAlreadyHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "report:acme:2025-06:SAFT_INVOICING", "rpt_2")

	mock.ExpectSetNX("report:acme:2025-06:SAFT_INVOICING", "rpt_2", 5*time.Minute).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Minute)
	assert.EqualError(t, err, "lock for key report:acme:2025-06:SAFT_INVOICING is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerUnlockSuccess(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "report:acme:2025-06:VAT_SUMMARY", "rpt_3")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"report:acme:2025-06:VAT_SUMMARY"}, "rpt_3").SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockerUnlockNotHolder(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "report:acme:2025-06:VAT_SUMMARY", "rpt_4")

	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{"report:acme:2025-06:VAT_SUMMARY"}, "rpt_4").SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
