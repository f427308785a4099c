package prompt

// sections.go declares the built-in NIH DMP section specs: one prompt
// template and one retrieval query builder per section. Query builders are
// seeded with the project title so retrieval stays anchored to the project
// domain rather than generic policy text.

// Section keys for the built-in NIH DMP sections.
const (
	SectionDataTypes    = "data_types"
	SectionMetadata     = "metadata"
	SectionAccess       = "access"
	SectionPreservation = "preservation"
	SectionOversight    = "oversight"
)

const dataTypesTemplate Template = `You are an expert data management planner.
Your task is to write the "{section_name}" section of an NIH-style
Data Management and Sharing Plan (DMP).

### Project information
{project_info}

### Reference context from other NIH DMPs and FAIR data policies
{context}

Using the above, write a concise, professional paragraph describing:
- Types of data generated or collected (e.g., images, code, clinical records)
- File formats and any transformations
- Expected size or scale of the dataset
- Data quality and standardization

### Output
Write in formal academic tone (approx. 150-200 words).
Do not include section headings or markdown syntax.`

const metadataTemplate Template = `You are writing the "{section_name}" section of a Data Management Plan.

### Project info
{project_info}

### Context
{context}

Describe:
- Metadata standards and controlled vocabularies that will be used
- How metadata supports FAIR data principles
- Tools or systems used to capture metadata (e.g., REDCap, DataCite schema)
- File-level documentation practices

Keep the tone formal, concise, and NIH-compliant (150-200 words).`

const accessTemplate Template = `You are writing the "{section_name}" section of a Data Management Plan.

### Project info
{project_info}

### Context
{context}

Describe:
- How and when data will be shared
- Data repositories or archives that will host the data
- Access levels (open, restricted, controlled)
- Privacy, consent, and HIPAA considerations

Keep the answer clear, structured, and policy-oriented (150-200 words).`

const preservationTemplate Template = `Write the "{section_name}" section of an NIH DMP.

### Project info
{project_info}

### Context
{context}

Discuss:
- Long-term repositories and archiving plans
- Retention duration
- Version control and backup strategies
- Persistent identifiers (DOIs, handles)
- Any associated costs or responsibilities

Formal, factual tone (150-200 words).`

const oversightTemplate Template = `You are writing the "{section_name}" section of a Data Management Plan.

### Project info
{project_info}

### Context
{context}

Explain:
- Roles and responsibilities in data management
- QA/QC procedures
- Compliance monitoring
- Review frequency and governance

Be concise and professional (150-200 words).`

// titleOr returns the project title or a generic fallback for query seeding.
func titleOr(info ProjectInfo) string {
	if t := info.Title(); t != "" {
		return t
	}
	return "research project"
}

// DefaultSections returns the built-in NIH DMP section specs in canonical
// document order.
func DefaultSections() []SectionSpec {
	return []SectionSpec{
		{
			Key:      SectionDataTypes,
			Title:    "Data Types and Formats",
			Template: dataTypesTemplate,
			BuildQuery: func(info ProjectInfo) string {
				return titleOr(info) + ": describe NIH-supported data types, formats, modalities, and standards."
			},
		},
		{
			Key:      SectionMetadata,
			Title:    "Metadata and Documentation",
			Template: metadataTemplate,
			BuildQuery: func(info ProjectInfo) string {
				return titleOr(info) + ": NIH metadata requirements, FAIR compliance, controlled vocabularies, documentation."
			},
		},
		{
			Key:      SectionAccess,
			Title:    "Data Access and Sharing",
			Template: accessTemplate,
			BuildQuery: func(info ProjectInfo) string {
				return titleOr(info) + ": NIH data sharing, repositories, access control, consent, HIPAA, dbGaP."
			},
		},
		{
			Key:      SectionPreservation,
			Title:    "Data Preservation, Archiving, and Storage",
			Template: preservationTemplate,
			BuildQuery: func(info ProjectInfo) string {
				return titleOr(info) + ": NIH long-term storage, archiving, versioning, persistent identifiers."
			},
		},
		{
			Key:      SectionOversight,
			Title:    "Oversight and Data Quality Assurance",
			Template: oversightTemplate,
			BuildQuery: func(info ProjectInfo) string {
				return titleOr(info) + ": data quality assurance, management roles, oversight, NIH policy compliance."
			},
		},
	}
}

// DefaultRegistry returns the registry of built-in NIH sections.
// The built-in templates are validated like any others; an error here is a
// programming bug caught at startup.
func DefaultRegistry() (*Registry, error) {
	return NewRegistry(DefaultSections())
}
