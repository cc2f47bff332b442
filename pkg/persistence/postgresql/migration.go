package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions and their ordered steps
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('on_create', 'on_update', 'on_field_change', 'scheduled', 'manual')),
				entity_type VARCHAR(255) NOT NULL,
				trigger_conditions JSONB NOT NULL DEFAULT '[]',
				watched_fields TEXT[] NOT NULL DEFAULT '{}',
				schedule VARCHAR(255) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT true,
				execution_order INT NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				execution_count BIGINT NOT NULL DEFAULT 0,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_definitions_trigger ON workflow_definitions(tenant_id, entity_type, trigger_type, active);
			CREATE INDEX idx_workflow_definitions_deleted_at ON workflow_definitions(deleted_at);

			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				step_order INT NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				action_config JSONB NOT NULL DEFAULT '{}',
				conditions JSONB NOT NULL DEFAULT '[]',
				delay_minutes INT NOT NULL DEFAULT 0 CHECK (delay_minutes >= 0),
				enabled BOOLEAN NOT NULL DEFAULT true,
				continue_on_error BOOLEAN NOT NULL DEFAULT false,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_steps_order ON workflow_steps(workflow_id, step_order);
		`,
		2: `
			-- Execution audit trail
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'partially_completed', 'failed')),
				trigger_type VARCHAR(50) NOT NULL,
				trigger_event_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_data JSONB NOT NULL DEFAULT '{}',
				current_step INT NOT NULL DEFAULT 0,
				total_steps INT NOT NULL DEFAULT 0,
				completed_steps INT NOT NULL DEFAULT 0,
				failed_steps INT NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_tenant_status ON workflow_executions(tenant_id, status);
			CREATE INDEX idx_workflow_executions_entity ON workflow_executions(entity_id, entity_type);
			CREATE INDEX idx_workflow_executions_workflow_status ON workflow_executions(workflow_id, status);
			CREATE INDEX idx_workflow_executions_updated_at ON workflow_executions(status, updated_at);

			CREATE TABLE workflow_step_executions (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				step_order INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				input_snapshot JSONB,
				output_snapshot JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				retry_count INT NOT NULL DEFAULT 0,
				resume_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE UNIQUE INDEX idx_workflow_step_executions_order ON workflow_step_executions(execution_id, step_order);
			CREATE INDEX idx_workflow_step_executions_status ON workflow_step_executions(status);
		`,
	}
}
