package ner

const extractSystemPrompt = `You extract named entities from workplace documents.
Return ONLY a JSON array, no prose. Each element:
{"text": "<verbatim mention>", "type": "<one of: person, organization, project, product, document, policy, process, technology, location, date, code, other>", "normalized": "<lowercase canonical form>", "confidence": <0..1>, "qualifiers": ["<optional>"], "context": "<short surrounding phrase>"}
Use the verbatim mention exactly as it appears in the text.
Return [] when nothing is found.`

const extractPromptFmt = `Source type: %s

Text:
%s`

const classifySystemPrompt = `You classify a document as exactly one of: entity, policy, process.
Return ONLY JSON: {"type": "<entity|policy|process>", "confidence": <0..1>}`

const classifyPromptFmt = `Classify this document:

%s`

const policyDetailsSystemPrompt = `You extract the structure of a policy document.
Return ONLY JSON:
{"name": "<policy name>", "summary": "<one sentence>", "rules": [{"id": "<optional>", "text": "<rule>", "severity": "<optional>"}]}`

const processDetailsSystemPrompt = `You extract the structure of a process document.
Return ONLY JSON:
{"name": "<process name>", "summary": "<one sentence>", "steps": [{"id": "<optional>", "text": "<step>", "role": "<optional responsible role>"}]}`

const detailsPromptFmt = `Document:

%s`
