package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the TiltCheck MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var userIDParam = mcp.WithString("user_id",
	mcp.Description("TiltCheck user ID (Discord ID or wallet address). Defaults to the configured user."))

var ToolGetTrustSummary = mcp.NewTool("get_trust_summary",
	mcp.WithDescription(
		"Get a user's trust score (0-1000), trust tier, sus score (0-100), risk level and "+
			"recommended intervention level. Use this before trusting someone in a tip, trade or raffle."),
	userIDParam,
)

var ToolGetSessionStatus = mcp.NewTool("get_session_status",
	mcp.WithDescription(
		"Show the user's live gambling session: bankroll, balance, bets, win rate, "+
			"tilt alerts so far and a live risk score."),
	userIDParam,
)

var ToolStartSession = mcp.NewTool("start_session",
	mcp.WithDescription(
		"Start tracking a gambling session. Starting a new session ends and archives any session already running."),
	userIDParam,
	mcp.WithString("platform",
		mcp.Required(),
		mcp.Description("Casino or platform name (e.g. 'stake', 'roobet')")),
	mcp.WithString("bankroll",
		mcp.Required(),
		mcp.Description("Starting bankroll as a decimal string (e.g. '100.00')")),
)

var ToolLogBet = mcp.NewTool("log_bet",
	mcp.WithDescription(
		"Log one bet in the active session. Returns any tilt alerts the bet triggered "+
			"(stake escalation, loss streak, critical balance, rapid betting)."),
	userIDParam,
	mcp.WithString("stake",
		mcp.Required(),
		mcp.Description("Amount wagered (e.g. '10')")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("Bet result"),
		mcp.Enum("win", "loss")),
	mcp.WithString("payout",
		mcp.Description("Total returned on a win, including the stake (e.g. '20')")),
)

var ToolEndSession = mcp.NewTool("end_session",
	mcp.WithDescription(
		"End the active session and get its grade (A+ to F), net result and discipline score."),
	userIDParam,
)

var ToolReportScam = mcp.NewTool("report_scam",
	mcp.WithDescription(
		"Report another user for a scam. Reporters need enough trust to file; "+
			"confirmed reports sharply raise the target's sus score."),
	mcp.WithString("reporter_id",
		mcp.Description("Reporting user. Defaults to the configured user.")),
	mcp.WithString("target_id",
		mcp.Required(),
		mcp.Description("User being reported")),
	mcp.WithString("scam_type",
		mcp.Required(),
		mcp.Description("Kind of scam (e.g. 'rug_pull', 'fake_giveaway', 'unpaid_tip')")),
	mcp.WithNumber("evidence_level",
		mcp.Description("Strength of evidence from 1 (claim) to 3 (verifiable proof). Default 1.")),
	mcp.WithString("description",
		mcp.Description("What happened")),
	mcp.WithArray("evidence",
		mcp.Description("Links or transaction hashes backing the report"),
		mcp.Items(map[string]any{"type": "string"})),
)

var ToolGetInterventions = mcp.NewTool("get_interventions",
	mcp.WithDescription(
		"List recent interventions sent to the user: tilt alerts, risk check-ins and session recaps."),
	userIDParam,
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of interventions to return (default 10)")),
)
