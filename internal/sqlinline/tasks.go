package sqlinline

const QInsertTask = `--sql 71ba1a45-b5ac-47f5-8ccf-3a9df2073f09
insert into tasks (id, task_id, user_id, task_type, status, prompt, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::bigint, $3::text, $4::text, $5::text, $6::timestamptz, $6::timestamptz)
returning id::text;
`

// QUpdateTaskStatus only moves a task out of Pending; terminal rows are left untouched.
const QUpdateTaskStatus = `--sql 4399e057-c5f8-4bc8-ba07-22f4c99b97a0
update tasks
set status        = $2::text,
    result_url    = coalesce($3::text, result_url),
    error_message = coalesce($4::text, error_message),
    updated_at    = now()
where task_id = $1::text
  and status = 'Pending';
`

const QSelectTaskByTaskID = `--sql 69729689-d262-46c8-897d-9bfcbf1500fd
select id::text, task_id, user_id, task_type, status, coalesce(prompt, ''), coalesce(result_url, ''),
       coalesce(error_message, ''), created_at, updated_at
from tasks
where task_id = $1::text
limit 1;
`

const QDeleteTasksOlderThan = `--sql 141582e6-9b16-4d7d-a9e7-9fd2aab54971
delete from tasks
where created_at < $1::timestamptz;
`
