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

// System prompts carry the fixed output schema per entity kind. Messages in
// the transcript are tagged [MSG-n]; the model must cite the tag of the
// message each candidate came from.

const eventsSystemPrompt = `You extract calendar events from a group chat transcript.
Each transcript line starts with a [MSG-n] tag. Respond with JSON only:
{"events":[{"message_ref":"MSG-n","title":"...","date":"YYYY-MM-DD","time":"HH:MM or empty","location":"","description":"","category":"school|medical|social|sports|work|other","confidence":0.0-1.0}]}
Only include events with a concrete date. confidence reflects how certain the
extraction is, not whether the event will happen. Return {"events":[]} if none.`

const rsvpsSystemPrompt = `You find invitations that need a yes/no/maybe response in a group chat transcript.
Each transcript line starts with a [MSG-n] tag. Respond with JSON only:
{"rsvps":[{"message_ref":"MSG-n","event_name":"...","event_date":"YYYY-MM-DD or empty","deadline":"YYYY-MM-DD or empty"}]}
message_ref must cite the message containing the invitation. Return {"rsvps":[]} if none.`

const deadlinesSystemPrompt = `You extract tasks with due dates addressed to the reader from a group chat transcript.
Each transcript line starts with a [MSG-n] tag. Respond with JSON only:
{"deadlines":[{"message_ref":"MSG-n","task":"...","due":"YYYY-MM-DD","category":"school|medical|social|sports|work|other","priority":"urgent|high|medium|low","details":""}]}
Return {"deadlines":[]} if none.`

const decisionsSystemPrompt = `You record decisions the group has reached in a chat transcript.
Each transcript line starts with a [MSG-n] tag. Respond with JSON only:
{"decisions":[{"message_ref":"MSG-n","text":"...","category":"school|medical|social|sports|work|other","deadline":"YYYY-MM-DD or empty"}]}
Only include settled decisions, not open questions. Return {"decisions":[]} if none.`

const prioritySystemPrompt = `You flag messages that need the reader's attention in a chat transcript.
Each transcript line starts with a [MSG-n] tag. Respond with JSON only:
{"messages":[{"message_ref":"MSG-n","priority":"urgent|high|medium","reason":"...","action_required":true|false}]}
Flag sparingly; most messages are not priority. Return {"messages":[]} if none.`
