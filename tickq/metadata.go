package tickq

// Well-known keys of the request header and the response report.
const (
	KeyRequestID       = "request_id"
	KeyService         = "service"
	KeyTCP             = "tcp"
	KeyFunctionList    = "function_list"
	KeyArgumentList    = "argument_list"
	KeyArgumentMapping = "argument_mapping"
	KeySeparator       = "separator"
	KeyInputSorted     = "input_sorted"
	KeyInputCount      = "input_cnt"
	KeyOutputFormat    = "output_format"
	KeyTimeZone        = "time_zone"

	KeyInputRecords   = "input_records"
	KeyOutputRecords  = "output_records"
	KeyResultFields   = "result_fields"
	KeyErrorSummary   = "error_summary"
	KeyRuntimeSummary = "runtime_summary"

	KeyRequestParsing = "request_parsing_sorting"
	KeyExecution      = "execution"
	KeyResultMerging  = "result_merging_sorting"

	// IDField names the record identifier column shared by every alias.
	IDField = "ID"

	DefaultSeparator    = "|"
	DefaultOutputFormat = "psv"
	DefaultTimeZone     = "America/New_York"
)

// writeChunkSize is the buffer size records are flushed in.
const writeChunkSize = 64 * 1024
