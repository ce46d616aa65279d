package history

// Keys of provider-native content maps. Entries store items exactly as the
// backend produced them, so these names follow the provider wire format.
const (
	KeyID               = "id"
	KeyType             = "type"
	KeyRole             = "role"
	KeyContent          = "content"
	KeyText             = "text"
	KeyCallID           = "call_id"
	KeyName             = "name"
	KeyArguments        = "arguments"
	KeyOutput           = "output"
	KeyStatus           = "status"
	KeyImageURL         = "image_url"
	KeySummary          = "summary"
	KeyEncryptedContent = "encrypted_content"
)

// Item type discriminators.
const (
	TypeMessage            = "message"
	TypeFunctionCall       = "function_call"
	TypeCustomToolCall     = "custom_tool_call"
	TypeFunctionCallOutput = "function_call_output"
	TypeReasoning          = "reasoning"
)

// Content part types inside message items.
const (
	PartInputText  = "input_text"
	PartInputImage = "input_image"
	PartOutputText = "output_text"
)

// Roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
