package bot

// User-facing reply texts. Kept together so wording changes stay out of the
// control flow.
const (
	textStartPrivate = "Hello! You are registered. An administrator can now assign you as a sales manager of a group."
	textStartGroup   = "Bot is active in this group. An administrator can assign a sales manager with /assign_manager."

	textHelp = `Commands:
/start — register with the bot
/status — show assignment status
/assign_manager — assign a sales manager (admins, groups)
/new — create an item (manager)
/clear — cancel the item wizard, or clear the assignment (admin)
/report — sales orders report (manager)
/reset_api — reset and re-enter ERP credentials (private chat)`

	textNotAdmin          = "Only administrators can do that."
	textGroupOnly         = "This command works only in a group chat."
	textPrivateOnly       = "This command works only in a private chat with the bot."
	textNoCandidates      = "No candidates yet: ask users to send /start to the bot first."
	textPickCandidate     = "Pick a sales manager for this group:"
	textCandidateGone     = "That user never started the bot. Ask them to send /start first."
	textUserAlreadyBound  = "That user already manages another group."
	textAssignedFmt       = "%s is now the sales manager of this group."
	textReassignPromptFmt = "This group already has a manager (%s). Replace with %s?"
	textReassignKept      = "Kept the current manager."
	textClearedAssignment = "Assignment cleared for this group."
	textStatusUnassigned  = "No sales manager is assigned to this group."
	textStatusFmt         = "Sales manager: %s\nCredentials: %s"
	textStatusVerified    = "verified"
	textStatusMissing     = "not set — the manager should open a private chat and send /reset_api"
	textUserStatusNone    = "You manage no group. An administrator can assign you with /assign_manager."
	textUserStatusFmt     = "You manage: %s\nCredentials: %s"

	textNotManager      = "Only the group's active sales manager can do that."
	textNeedCredentials = "Your ERP credentials are not set. Open a private chat with the bot and send /reset_api."

	textAskAPIKey       = "Send your ERP API key (15 hex characters)."
	textBadAPIKey       = "That does not look like an API key. Expected 15 hex characters, try again."
	textAskAPISecret    = "Now send your ERP API secret (15-16 hex characters)."
	textBadAPISecret    = "That does not look like an API secret. Expected 15-16 hex characters, try again."
	textCredsVerified   = "Credentials verified. ERP commands are now available in your group."
	textCredsRejected   = "The ERP rejected this key/secret pair. Send /reset_api to try again."
	textCredsReset      = "Credentials cleared."
	textGatewayDown     = "The ERP is unreachable right now. Please try again in a moment."
	textNoCredsDialog   = "Nothing pending. Send /reset_api to set credentials."
	textUnknownPrivate  = "Send /help for the list of commands."

	textWizardCode      = "Item creation started. Send the item code:"
	textWizardEmptyCode = "The item code cannot be empty. Send the item code:"
	textWizardName      = "Send the item name:"
	textWizardEmptyName = "The item name cannot be empty. Send the item name:"
	textWizardGroup     = "Pick the item group:"
	textWizardUOM       = "Pick the unit of measure:"
	textWizardUseKB     = "Please use the buttons below."
	textWizardStale     = "That keyboard is no longer current."
	textWizardSearch    = "Send a search query for the unit of measure:"
	textWizardNoMatch   = "Nothing matched. Pick from the list or search again:"
	textWizardCancelled = "Item creation cancelled."
	textWizardDeferred  = "Finishing the current step, the wizard will close right after."
	textWizardNothing   = "No item wizard is running. Start one with /new."
	textWizardDoneFmt   = "Item %s created."
	textWizardFailFmt   = "The ERP rejected the item: %s\nStart over with /new."

	textReassignYes = "Yes, replace"
	textReassignNo  = "No, keep"
	textDMHint      = "I could not reach the manager privately. They should open a private chat with the bot, send /start and then /reset_api."

	textGroupCredsVerifiedFmt = "%s entered valid ERP credentials. ERP commands are available in this group."
	textGroupCredsRejectedFmt = "%s entered ERP credentials, but the ERP rejected them."
	textGroupCredsResetFmt    = "%s reset their ERP credentials. ERP commands are paused until a new pair is verified."
	textCustomerCreatedFmt    = "Created ERP customer %s for this group."

	textReportHeaderFmt = "Sales orders for %s:"
	textReportEmpty     = "No sales orders found."
	textTryAgain        = "Something went wrong, please try again."
)

const (
	// cbAssign carries the picked candidate user id.
	cbAssign = "assign"
	// cbReassign confirms replacing the current manager; payload is the candidate id.
	cbReassign = "reassign"
	// cbReassignNo keeps the current manager.
	cbReassignNo = "reassign_no"
	// cbWizPick selects a choice; payload "<kind>:<index>".
	cbWizPick = "wizpick"
	// cbWizPage navigates pages; payload "<kind>:<page>".
	cbWizPage = "wizpage"
	// cbWizSearch enters UOM search.
	cbWizSearch = "wizsearch"
	// cbWizCancel discards the wizard.
	cbWizCancel = "wizcancel"
)
