/*
Package ner mines free text for entity mentions and classifies documents
as entity, policy or process material.

	 text ──▶ Extractor ──▶ strict parser ──▶ ExtractedEntity[]
	                                              │
	 node.upserted ──▶ Worker ──▶ embeddings      ▼
	                          └─▶ ObservationRecorder (observer)

	 document ──▶ Classifier ──▶ {type, confidence}
	                   └─(policy|process)─▶ details call ─▶ rules/steps

# Strict Parsing

Model output is never trusted: fences and prose are stripped, entity types
outside the closed set collapse to "other", offsets are recomputed by
searching the input for the verbatim mention (-1 when the model
paraphrased), and absent confidences default to 0.8. A reply that does not
decode is an INVALID_INPUT error carrying a sample of the payload.

# Two-Call Classification

Documents are typed on a small token budget first; only policies and
processes pay for a second, structured extraction call. Rules and steps
without ids are numbered R1..Rn / S1..Sn in reply order.

# Enrichment

The worker subscribes to node.upserted events. Display names are embedded
for vector search; nodes carrying a content property (description, body,
content, text) additionally run extraction, and every mention lands as an
observation. All of it is best effort: a model outage degrades search and
canonicalization, never ingestion.
*/
package ner
