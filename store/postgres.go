package store

import (
	"database/sql"

	_ "github.com/lib/pq" // load the postgres driver
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Postgres is a PostgreSQL database that's also a GateStore.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a GateStore backed by PostgreSQL. It connects to the
// database using connstr.
func NewPostgres(connstr string) (GateStore, error) {
	logger = logger.WithField("store", "postgres")

	logger.Debug("connecting to database")

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		logger.WithField("error", err).Debug("unable to connect to database")
		return nil, err
	}

	return &Postgres{
		db: db,
	}, nil
}

// GetPipelines implements the GateStore interface. It returns a preview
// list of all pipelines, without their runs.
func (st *Postgres) GetPipelines() ([]Pipeline, error) {
	logger := logger.WithField("query", "get_pipelines")
	logger.Debug("fetching all pipelines from postgres")

	sqlq := `
	SELECT p.id, p.name, p.remote_url, p.remote_branch, p.success
	FROM pipelines AS p;
	`

	rows, err := st.db.Query(sqlq)
	if err != nil {
		logger.WithError(err).Debug("unable to query postgres for pipelines")
		return nil, err
	}

	ps := []Pipeline{}
	for rows.Next() {
		p := Pipeline{}

		err := rows.Scan(&p.ID, &p.Name, &p.GitRemote.URL, &p.GitRemote.Branch, &p.Success)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")

			return ps, err
		}

		ps = append(ps, p)
	}

	return ps, nil
}

// GetPipeline retrieves the Pipeline with the given id from postgres,
// along with its runs. If there's no such pipeline it returns
// ErrPipelineNotFound.
func (st *Postgres) GetPipeline(id int) (Pipeline, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting pipeline from postgres")

	sqlq := `
	SELECT p.name, p.success, p.remote_url, p.remote_branch,
		r.count, r.start_time, r.end_time, r.success
	FROM pipelines AS p
	LEFT JOIN runs AS r
	ON p.id = r.pipeline_id
	WHERE p.id = $1
	ORDER BY r.count;
	`

	p := Pipeline{ID: id}
	rows, err := st.db.Query(sqlq, id)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return p, err
	}

	if !rows.Next() {
		return p, ErrPipelineNotFound
	}

	// The loop has to be unrolled to handle the first call to
	// Next() that was used to check for a result.
	var count sql.NullInt64
	r := Run{PipelineID: id}
	err = rows.Scan(&p.Name, &p.Success, &p.GitRemote.URL, &p.GitRemote.Branch,
		&count, &r.Start, &r.End, &r.Success)
	if err != nil {
		logger.WithError(err).Debug("unable to scan row")
		return p, err
	}

	// A pipeline that hasn't run yet joins against nothing.
	if count.Valid {
		r.Count = int(count.Int64)
		p.Runs = append(p.Runs, r)
	}

	for rows.Next() {
		r := Run{PipelineID: id}

		// It's safe to always overwrite `p` here because these values
		// should always be the same.
		err := rows.Scan(&p.Name, &p.Success, &p.GitRemote.URL, &p.GitRemote.Branch,
			&count, &r.Start, &r.End, &r.Success)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return p, err
		}

		if count.Valid {
			r.Count = int(count.Int64)
			p.Runs = append(p.Runs, r)
		}
	}

	return p, nil
}

// GetPipelineID queries Postgres for the ID of the pipeline matching the
// filters. If no pipelines are found it returns ErrNoPipelines.
func (st *Postgres) GetPipelineID(remote GitRemote, name string) (id int, err error) {
	logger := logger.WithFields(log.Fields{
		"url":    remote.URL,
		"branch": remote.Branch,
		"name":   name,
		"query":  "get_pipeline_id",
	})

	sqlq := `
	SELECT id
	FROM pipelines
	WHERE remote_url = $1
		AND remote_branch = $2
		AND name = $3;
	`

	logger.Debug("retrieving id from postgres")

	err = st.db.QueryRow(sqlq, remote.URL, remote.Branch, name).Scan(&id)
	if err == sql.ErrNoRows {
		err = ErrNoPipelines
	}

	return
}

// CreatePipeline saves a Pipeline to Postgres.
func (st *Postgres) CreatePipeline(p *Pipeline) error {
	logger := logger.WithFields(log.Fields{
		"name":   p.Name,
		"url":    p.GitRemote.URL,
		"branch": p.GitRemote.Branch,

		"query": "create_pipeline",
	})

	sqlinsert := `
	INSERT INTO pipelines (name, remote_url, remote_branch)
	VALUES
		($1, $2, $3)
	RETURNING id;
	`

	logger.Debug("saving pipeline")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(
		sqlinsert, p.Name, p.GitRemote.URL, p.GitRemote.Branch).
		Scan(&p.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert pipeline")
		return err
	}

	logger.Debug("pipeline saved")

	return nil
}

// UpdatePipeline is part of the GateStore interface. It sets the
// pipeline's success status to the latest verdict.
func (st *Postgres) UpdatePipeline(p *Pipeline) error {
	sqlupdate := `
	UPDATE pipelines
	SET success = $1
	WHERE pipelines.id = $2
	`

	logger := logger.WithFields(log.Fields{
		"id":      p.ID,
		"success": p.Success,
		"query":   "set_pipeline_success",
	})

	logger.Debug("setting pipeline success")

	_, err := st.db.Exec(sqlupdate, p.Success, p.ID)
	return err
}

// CreateRun is part of the GateStore interface. It creates a new pipeline
// run in the database and sets the count.
func (st *Postgres) CreateRun(r *Run) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": r.PipelineID,
	})

	sqlinsert := `
	WITH run_count AS (
		SELECT COUNT(*) from runs
		WHERE runs.pipeline_id = $4
	)
	INSERT INTO runs (count, start_time, end_time, success, pipeline_id)
	SELECT run_count.count+1, $1, $2, $3, $4
	FROM run_count
	RETURNING count
	`

	logger.Debug("saving pipeline run")

	// Using QueryRow because the insert is returning "count".
	err := st.db.QueryRow(
		sqlinsert, r.Start, r.End, r.Success, r.PipelineID).
		Scan(&r.Count)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert pipeline run")
		return err
	}

	logger.Debug("pipeline run saved")

	return nil
}

// UpdateRun implements part of GateStore. It updates a run's success
// status and end time.
func (st *Postgres) UpdateRun(r *Run) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": r.PipelineID,
		"count":       r.Count,
		"end":         r.End,
		"success":     r.Success,
	})

	sqlupdate := `
	UPDATE runs
	SET success = $1, end_time = $2
	WHERE runs.pipeline_id = $3 AND runs.count = $4
	`

	logger.Debug("saving pipeline run")

	_, err := st.db.Exec(sqlupdate, r.Success, r.End, r.PipelineID, r.Count)
	return err
}

// GetRun returns the nth run of the pipeline with the given ID. If the run
// isn't found it returns ErrRunNotFound.
func (st *Postgres) GetRun(pid, n int) (Run, error) {
	logger := logger.WithFields(logrus.Fields{
		"pipeline_id": pid,
		"count":       n,
	})
	logger.Debug("getting run from postgres")

	sqlq := `
	SELECT r.start_time, r.end_time, r.success,
		j.id, j.name, j.start_time, j.end_time, j.success
	FROM runs AS r
	LEFT JOIN jobs AS j
	ON r.count = j.run_count
		AND r.pipeline_id = j.pipeline_id
	WHERE r.pipeline_id = $1 AND r.count = $2
	ORDER BY j.id
	`

	r := Run{
		PipelineID: pid,
		Count:      n,
	}
	rows, err := st.db.Query(sqlq, pid, n)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return r, err
	}

	if !rows.Next() {
		return r, ErrRunNotFound
	}

	// The loop has to be unrolled to handle the first call to
	// Next() that was used to check for a result.
	var jid sql.NullInt64
	var jname sql.NullString
	j := Job{
		PipelineID: pid,
		RunCount:   n,
	}
	err = rows.Scan(&r.Start, &r.End, &r.Success,
		&jid, &jname, &j.Start, &j.End, &j.Success)
	if err != nil {
		logger.WithError(err).Debug("unable to scan row")
		return r, err
	}

	// A run that failed setup validation has no jobs to join against.
	if jid.Valid {
		j.ID = int(jid.Int64)
		j.Name = jname.String
		r.Jobs = append(r.Jobs, j)
	}

	for rows.Next() {
		j := Job{
			PipelineID: pid,
			RunCount:   n,
		}

		// It's safe to always overwrite `r` here because these values
		// should always be the same.
		err := rows.Scan(&r.Start, &r.End, &r.Success,
			&jid, &jname, &j.Start, &j.End, &j.Success)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return r, err
		}

		if jid.Valid {
			j.ID = int(jid.Int64)
			j.Name = jname.String
			r.Jobs = append(r.Jobs, j)
		}
	}

	return r, nil
}

// CreateJob is part of the GateStore interface. It creates a new run job
// in the database and sets the ID.
func (st *Postgres) CreateJob(j *Job) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": j.PipelineID,
		"run_count":   j.RunCount,
		"name":        j.Name,
	})

	sqlinsert := `
	INSERT INTO jobs (name, start_time, end_time, success, pipeline_id, run_count)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
	`

	logger.Debug("saving run job")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(
		sqlinsert, j.Name, j.Start, j.End, j.Success, j.PipelineID, j.RunCount).
		Scan(&j.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert run job")
		return err
	}

	logger.Debug("run job saved")

	return nil
}

// UpdateJob is part of the GateStore interface. It updates a job's
// success status and end time with what's passed in.
func (st *Postgres) UpdateJob(j *Job) error {
	logger := logger.WithFields(log.Fields{
		"pipeline_id": j.PipelineID,
		"run_count":   j.RunCount,
		"name":        j.Name,
		"id":          j.ID,
		"success":     j.Success,
		"end":         j.End,
	})

	sqlupdate := `
	UPDATE jobs
	SET success = $1, end_time = $2
	WHERE jobs.id = $3
	`

	logger.Debug("saving run job")

	_, err := st.db.Exec(sqlupdate, j.Success, j.End, j.ID)
	return err
}

// GetJob returns the job with the given ID, along with its steps. If
// the job isn't found it returns ErrJobNotFound.
func (st *Postgres) GetJob(id int) (Job, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting job from postgres")

	sqlq := `
	SELECT j.name, j.start_time, j.end_time, j.success,
		s.id, s.name, s.start_time, s.end_time, s.success, s.log
	FROM jobs AS j
	LEFT JOIN steps AS s
	ON j.id = s.job_id
	WHERE j.id = $1
	ORDER BY s.id
	`

	j := Job{ID: id}
	rows, err := st.db.Query(sqlq, id)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return j, err
	}

	if !rows.Next() {
		return j, ErrJobNotFound
	}

	// The loop has to be unrolled to handle the first call to
	// Next() that was used to check for a result.
	var sid sql.NullInt64
	var sname, slog sql.NullString
	s := Step{JobID: id}
	err = rows.Scan(&j.Name, &j.Start, &j.End, &j.Success,
		&sid, &sname, &s.Start, &s.End, &s.Success, &slog)
	if err != nil {
		logger.WithError(err).Debug("unable to scan row")
		return j, err
	}

	// A job that never got its environment has no steps to join against.
	if sid.Valid {
		s.ID = int(sid.Int64)
		s.Name = sname.String
		s.Log = slog.String
		j.Steps = append(j.Steps, s)
	}

	for rows.Next() {
		s := Step{JobID: id}

		// It's safe to always overwrite `j` here because these values
		// should always be the same.
		err := rows.Scan(&j.Name, &j.Start, &j.End, &j.Success,
			&sid, &sname, &s.Start, &s.End, &s.Success, &slog)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return j, err
		}

		if sid.Valid {
			s.ID = int(sid.Int64)
			s.Name = sname.String
			s.Log = slog.String
			j.Steps = append(j.Steps, s)
		}
	}

	return j, nil
}

// CreateStep is part of the GateStore interface. It creates a new job step
// in the database and sets the ID.
func (st *Postgres) CreateStep(s *Step) error {
	logger := logger.WithFields(log.Fields{
		"name":   s.Name,
		"job_id": s.JobID,
	})

	sqlinsert := `
	INSERT INTO steps (name, start_time, end_time, success, log, job_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id
	`

	logger.Debug("saving job step")

	// Using QueryRow because the insert is returning "id".
	err := st.db.QueryRow(
		sqlinsert, s.Name, s.Start, s.End, s.Success, s.Log, s.JobID).
		Scan(&s.ID)
	if err != nil {
		logger.WithField("error", err).Debug("unable to insert job step")
		return err
	}

	logger.Debug("job step saved")

	return nil
}

// UpdateStep is part of the GateStore interface. It updates the step's
// success status, end time and captured log with what's passed in.
func (st *Postgres) UpdateStep(s *Step) error {
	logger := logger.WithFields(log.Fields{
		"name":    s.Name,
		"job_id":  s.JobID,
		"success": s.Success,
		"id":      s.ID,
		"end":     s.End,
	})

	sqlupdate := `
	UPDATE steps
	SET success = $1, end_time = $2, log = $3
	WHERE steps.id = $4
	`

	logger.Debug("saving job step")

	_, err := st.db.Exec(sqlupdate, s.Success, s.End, s.Log, s.ID)
	return err
}

// GetStep returns the Step with the given ID. If the Step
// isn't found it returns ErrStepNotFound.
func (st *Postgres) GetStep(id int) (Step, error) {
	logger := logger.WithField("id", id)
	logger.Debug("getting step from postgres")

	sqlq := `
	SELECT name, start_time, end_time, success, log, job_id
	FROM steps
	WHERE steps.id = $1
	`

	s := Step{ID: id}
	err := st.db.QueryRow(sqlq, id).Scan(&s.Name, &s.Start, &s.End, &s.Success, &s.Log, &s.JobID)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return s, ErrStepNotFound
		}
	}

	return s, err
}

// CreateUser creates the passed in user in the database.
func (st *Postgres) CreateUser(u *User) error {
	logger := logger.WithField("email", u.Email)
	logger.Debug("saving user")

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	sqlq := `
	INSERT INTO users (email, name, password)
	VALUES
		($1, $2, $3)
	`

	_, err = st.db.Exec(sqlq, u.Email, u.Name, password)
	return err
}

// Authenticate checks the password for the user with the given email address.
func (st *Postgres) Authenticate(email, pass string) error {
	logger := logger.WithField("email", email)
	logger.Debug("authenticating user")

	sqlq := `
	SELECT password
	FROM users
	WHERE users.email = $1
	`

	cryptpass := []byte{}
	err := st.db.QueryRow(sqlq, email).Scan(&cryptpass)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return ErrNotAuthenticated
		}
	}

	err = bcrypt.CompareHashAndPassword(cryptpass, []byte(pass))
	if err != nil {
		logger.WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}
