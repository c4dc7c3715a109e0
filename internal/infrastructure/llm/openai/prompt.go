package openai

import "fmt"

const classificationSystemPrompt = `You are an insurance document analyst. You classify documents and extract key entities. Respond with a single JSON object and nothing else.`

func buildClassificationPrompt(text string) string {
	return fmt.Sprintf(`Classify the following insurance document.

Allowed document_type values:
- POLICY_DOCUMENT: a policy wording or policy schedule
- CERTIFICATE_OF_INSURANCE: proof of coverage issued to a third party
- CONTRACT: a broker, service or reinsurance agreement
- CLAIM_REQUEST: a first notice of loss or claim submission
- RFP: a request for proposal or tender
- REQUEST: any other customer request or inquiry
- UNCLASSIFIED: none of the above

Return JSON with exactly these fields:
{
  "document_type": "<one of the allowed values>",
  "confidence": <0.0-1.0>,
  "entities": [{"type": "<entity type>", "value": "<verbatim value>", "confidence": <0.0-1.0>}],
  "risk_level": "<HIGH|MEDIUM|LOW|UNKNOWN>",
  "priority": "<HIGH|MEDIUM|LOW>"
}

Entity types to look for: policy_number, claim_number, insured_name, insurer_name, coverage_amount, premium_amount, effective_date, expiry_date, loss_date.

Document text:
---
%s
---`, text)
}
