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

package fiskal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seliom/fiskal/model"
)

func TestRenderInvoiceArtifactDeterministic(t *testing.T) {
	doc := draftDocument()
	doc.State = model.StateAccepted
	doc.TicketID = "tkt_9"
	doc.PayloadHash = "abc123"
	doc.AckReceipt = `{"receipt":"AT-1"}`
	accepted := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)
	doc.AcceptedAt = &accepted

	first, err := RenderInvoiceArtifact(doc)
	require.NoError(t, err)
	second, err := RenderInvoiceArtifact(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second, "regeneration must overwrite with identical content")

	assert.Contains(t, first, "INVOICE A/42")
	assert.Contains(t, first, doc.CounterpartName)
	assert.Contains(t, first, "123 EUR")
	assert.Contains(t, first, "tkt_9")
	assert.Contains(t, first, "abc123")
	assert.Contains(t, first, "2026-08-15T10:30:00Z")
	assert.Contains(t, first, "AT-1")
}

func TestRenderInvoiceArtifactOmitsEmptyAck(t *testing.T) {
	doc := draftDocument()
	doc.State = model.StateAccepted

	content, err := RenderInvoiceArtifact(doc)
	require.NoError(t, err)
	assert.NotContains(t, content, "Acknowledgment")
}
