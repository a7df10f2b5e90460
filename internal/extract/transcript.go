// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"fmt"
	"strings"

	"github.com/loopline/insights/internal/models"
)

// Transcript is a model-ready rendering of a message window. Each message
// carries a synthetic [MSG-n] tag scoped to this batch; Refs maps tags back
// to canonical message IDs. Canonical IDs never enter the prompt — they are
// long and opaque, and the model only needs a stable local handle.
type Transcript struct {
	Text string
	Refs map[string]string // "MSG-3" -> canonical message ID
	IDs  []string          // canonical IDs of every message in the window
}

// buildTranscript renders messages (chronological order) into a tagged
// transcript.
func buildTranscript(msgs []models.Message) *Transcript {
	var b strings.Builder
	refs := make(map[string]string, len(msgs))
	ids := make([]string, 0, len(msgs))

	for i, m := range msgs {
		tag := fmt.Sprintf("MSG-%d", i+1)
		refs[tag] = m.ID
		ids = append(ids, m.ID)

		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		fmt.Fprintf(&b, "[%s] %s (%s): %s\n",
			tag, sender, m.CreatedAt.Format("2006-01-02 15:04"), m.Body)
	}

	return &Transcript{Text: b.String(), Refs: refs, IDs: ids}
}

// resolveRef maps a synthetic tag from model output back to its canonical
// message ID. The tag may arrive with or without brackets.
func (t *Transcript) resolveRef(ref string) (string, bool) {
	ref = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ref), "["), "]")
	id, ok := t.Refs[ref]
	return id, ok
}
