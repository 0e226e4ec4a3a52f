package sqlinline

const QEnsureUser = `--sql 9e78defa-0520-4e48-a83c-b4c19f31f561
insert into users (user_id, created_at, updated_at)
values ($1::bigint, now(), now())
on conflict (user_id) do nothing;
`

// QIncrementUsage bumps the counter matching the job kind passed as $2.
const QIncrementUsage = `--sql b58add65-f92a-4c5e-84d3-5284db28e455
insert into users (user_id, total_generations, total_edits, total_enhancements, last_used_at, created_at, updated_at)
values (
    $1::bigint,
    case when $2::text = 'generation' then 1 else 0 end,
    case when $2::text = 'edit' then 1 else 0 end,
    case when $2::text = 'enhancement' then 1 else 0 end,
    now(), now(), now()
)
on conflict (user_id) do update set
    total_generations  = users.total_generations + excluded.total_generations,
    total_edits        = users.total_edits + excluded.total_edits,
    total_enhancements = users.total_enhancements + excluded.total_enhancements,
    last_used_at       = now(),
    updated_at         = now();
`

const QSelectUsage = `--sql 96e6b290-bbc2-449a-9df6-07d0ce024722
select user_id, total_generations, total_edits, total_enhancements, last_used_at
from users
where user_id = $1::bigint;
`
