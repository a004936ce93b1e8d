package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Reference catalogs
			CREATE TABLE model_types (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				complex BOOLEAN NOT NULL DEFAULT false,
				active BOOLEAN NOT NULL DEFAULT true
			);

			CREATE TABLE person_types (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				active BOOLEAN NOT NULL DEFAULT true
			);

			-- Actions and analyses
			CREATE TABLE actions (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				ipp_latitude DOUBLE PRECISION,
				ipp_longitude DOUBLE PRECISION,
				rp_latitude DOUBLE PRECISION,
				rp_longitude DOUBLE PRECISION,
				lost_time TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				archived BOOLEAN NOT NULL DEFAULT false,
				deleted BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_actions_deleted ON actions(deleted);

			CREATE TABLE analyses (
				id BIGSERIAL PRIMARY KEY,
				action_id BIGINT NOT NULL REFERENCES actions(id),
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				ipp_latitude DOUBLE PRECISION,
				ipp_longitude DOUBLE PRECISION,
				rp_latitude DOUBLE PRECISION,
				rp_longitude DOUBLE PRECISION,
				lost_time TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_analyses_action_id ON analyses(action_id);
		`,
		2: `
			-- Weight graph
			CREATE TABLE models (
				id BIGSERIAL PRIMARY KEY,
				analysis_id BIGINT NOT NULL REFERENCES analyses(id),
				model_type_id BIGINT NOT NULL REFERENCES model_types(id),
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'waiting', 'processing', 'computing', 'loading', 'converting', 'error', 'finished')),
				result_id VARCHAR(255) NOT NULL DEFAULT '',
				UNIQUE(analysis_id, model_type_id)
			);

			CREATE INDEX idx_models_status ON models(status);

			CREATE TABLE model_weights (
				id BIGSERIAL PRIMARY KEY,
				model_id BIGINT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
				child_model_id BIGINT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
				weight INTEGER NOT NULL CHECK (weight > 0),
				UNIQUE(model_id, child_model_id)
			);

			CREATE INDEX idx_model_weights_child ON model_weights(child_model_id);

			CREATE TABLE profiles (
				id BIGSERIAL PRIMARY KEY,
				analysis_id BIGINT NOT NULL REFERENCES analyses(id),
				person_type_id BIGINT NOT NULL REFERENCES person_types(id),
				weight INTEGER NOT NULL CHECK (weight > 0),
				UNIQUE(analysis_id, person_type_id)
			);

			CREATE TABLE layers (
				id BIGSERIAL PRIMARY KEY,
				model_id BIGINT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
				layers_id VARCHAR(255) NOT NULL
			);

			CREATE INDEX idx_layers_model_id ON layers(model_id);
		`,
	}
}
