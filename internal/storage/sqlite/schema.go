package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS families (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	timezone TEXT NOT NULL,
	settings TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT,
	password_hash TEXT NOT NULL DEFAULT '',
	pin_hash TEXT NOT NULL DEFAULT '',
	totp_secret TEXT NOT NULL DEFAULT '',
	totp_enabled INTEGER NOT NULL DEFAULT 0,
	totp_mode TEXT NOT NULL DEFAULT '',
	totp_tan_minutes INTEGER NOT NULL DEFAULT 0,
	totp_override_minutes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_family_email ON users(family_id, email) WHERE email IS NOT NULL AND email != '';
CREATE INDEX IF NOT EXISTS idx_users_family ON users(family_id);

CREATE TABLE IF NOT EXISTS devices (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	device_identifier TEXT NOT NULL UNIQUE,
	device_token_hash TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	last_seen DATETIME,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_child ON devices(child_id);

CREATE TABLE IF NOT EXISTS device_couplings (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	device_ids TEXT NOT NULL,
	shared_budget INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS app_groups (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	risk_level TEXT NOT NULL DEFAULT '',
	always_allowed INTEGER NOT NULL DEFAULT 0,
	tan_allowed INTEGER NOT NULL DEFAULT 1,
	max_tan_bonus_per_day INTEGER NOT NULL DEFAULT 0,
	icon TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_app_groups_child ON app_groups(child_id);

CREATE TABLE IF NOT EXISTS app_group_apps (
	id TEXT PRIMARY KEY,
	group_id TEXT NOT NULL REFERENCES app_groups(id) ON DELETE CASCADE,
	app_name TEXT NOT NULL,
	app_package TEXT NOT NULL DEFAULT '',
	app_executable TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_app_group_apps_group ON app_group_apps(group_id);

CREATE TABLE IF NOT EXISTS time_rules (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL DEFAULT '',
	day_types TEXT NOT NULL,
	time_windows TEXT NOT NULL DEFAULT '[]',
	daily_limit_minutes INTEGER,
	group_limits TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	valid_from DATETIME,
	valid_until DATETIME,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_time_rules_child ON time_rules(child_id);

CREATE TABLE IF NOT EXISTS day_type_overrides (
	id TEXT PRIMARY KEY,
	family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
	date DATE NOT NULL,
	day_type TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	UNIQUE(family_id, date)
);

CREATE TABLE IF NOT EXISTS tans (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	code TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	scope_groups TEXT NOT NULL DEFAULT '[]',
	scope_devices TEXT NOT NULL DEFAULT '[]',
	value_minutes INTEGER,
	value_unlock_until DATETIME,
	expires_at DATETIME NOT NULL,
	single_use INTEGER NOT NULL DEFAULT 1,
	source TEXT NOT NULL,
	source_quest_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	redeemed_at DATETIME,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tans_child ON tans(child_id);
CREATE INDEX IF NOT EXISTS idx_tans_status ON tans(status);

CREATE TABLE IF NOT EXISTS tan_schedules (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	recurrence TEXT NOT NULL,
	tan_type TEXT NOT NULL,
	value_minutes INTEGER,
	scope_groups TEXT NOT NULL DEFAULT '[]',
	scope_devices TEXT NOT NULL DEFAULT '[]',
	expires_after_hours INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tan_schedule_logs (
	id TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL REFERENCES tan_schedules(id) ON DELETE CASCADE,
	date DATE NOT NULL,
	generated_tan_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(schedule_id, date)
);

CREATE TABLE IF NOT EXISTS quest_templates (
	id TEXT PRIMARY KEY,
	family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	reward_minutes INTEGER NOT NULL DEFAULT 0,
	tan_groups TEXT NOT NULL DEFAULT '[]',
	proof_type TEXT NOT NULL,
	ai_verify INTEGER NOT NULL DEFAULT 0,
	recurrence TEXT NOT NULL,
	auto_detect_app TEXT NOT NULL DEFAULT '',
	auto_detect_minutes INTEGER,
	streak_threshold INTEGER,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quest_templates_family ON quest_templates(family_id);

CREATE TABLE IF NOT EXISTS quest_instances (
	id TEXT PRIMARY KEY,
	template_id TEXT NOT NULL REFERENCES quest_templates(id) ON DELETE CASCADE,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	claimed_at DATETIME,
	proof_url TEXT NOT NULL DEFAULT '',
	reviewed_by TEXT NOT NULL DEFAULT '',
	reviewed_at DATETIME,
	generated_tan_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quest_instances_template_child ON quest_instances(template_id, child_id);

CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	app_package TEXT NOT NULL DEFAULT '',
	app_group_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	started_at DATETIME,
	ended_at DATETIME,
	duration_seconds INTEGER,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_device_created ON usage_events(device_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_child_created ON usage_events(child_id, created_at);

CREATE TABLE IF NOT EXISTS usage_reward_rules (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	threshold_minutes INTEGER NOT NULL DEFAULT 0,
	target_group_id TEXT NOT NULL DEFAULT '',
	streak_days INTEGER,
	reward_minutes INTEGER NOT NULL DEFAULT 0,
	reward_group_ids TEXT NOT NULL DEFAULT '[]',
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_reward_logs (
	id TEXT PRIMARY KEY,
	rule_id TEXT NOT NULL REFERENCES usage_reward_rules(id) ON DELETE CASCADE,
	child_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	evaluated_date DATE NOT NULL,
	usage_minutes INTEGER NOT NULL DEFAULT 0,
	threshold_minutes INTEGER NOT NULL DEFAULT 0,
	rewarded INTEGER NOT NULL DEFAULT 0,
	generated_tan_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(rule_id, evaluated_date)
);

CREATE TABLE IF NOT EXISTS family_invitations (
	id TEXT PRIMARY KEY,
	family_id TEXT NOT NULL REFERENCES families(id) ON DELETE CASCADE,
	code TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	created_by TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	used_by TEXT NOT NULL DEFAULT '',
	used_at DATETIME
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`
