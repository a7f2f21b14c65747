// Package convert translates tool schemas and tool-call histories between
// calling conventions.
//
// Three wire formats are supported, selected by the closed Format enum:
//
//	FunctionList      {type:"function", function:{name, description, parameters}}
//	NativeBlock       {name, description, input_schema}
//	ExternalProtocol  {name, description, inputSchema}
//
// History conversion maps function-list tool calls onto native tool_use
// blocks and batches consecutive tool results into one user turn of
// tool_result blocks. Unparseable call arguments are reported as
// *MalformedToolCall and never dropped.
package convert
